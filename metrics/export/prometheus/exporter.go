package prometheus

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Source is what the exporter scrapes. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter renders engine counters and the login latency histogram in the
// Prometheus text exposition format.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

func (x *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(x.Render())
	})
}

// Render returns nil when metrics are disabled and no audit event was
// dropped.
func (x *Exporter) Render() []byte {
	if x == nil || x.source == nil {
		return nil
	}

	snap := x.source.MetricsSnapshot()
	dropped := x.source.AuditDropped()
	if len(snap.Counters) == 0 && len(snap.Histograms) == 0 && dropped == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, def := range internaldefs.CounterDefs {
		counter(&buf, def.Name, def.Help, snap.Counters[def.ID])
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[def.ID]))
		histogram(&buf, def.Name, def.Help, buckets)
	}
	counter(&buf, "authcore_audit_dropped_total", "Audit events lost to a full dispatcher queue.", dropped)
	return buf.Bytes()
}

func header(buf *bytes.Buffer, name, help, kind string) {
	fmt.Fprintf(buf, "# HELP %s %s\n# TYPE %s %s\n", name, escapeHelp(help), name, kind)
}

func counter(buf *bytes.Buffer, name, help string, v uint64) {
	header(buf, name, help, "counter")
	fmt.Fprintf(buf, "%s %d\n", name, v)
}

// The engine only tracks bucket counts, so _sum is always 0.
func histogram(buf *bytes.Buffer, name, help string, cumulative [8]uint64) {
	header(buf, name, help, "histogram")
	for i, le := range internaldefs.HistogramBounds {
		fmt.Fprintf(buf, "%s_bucket{le=%q} %d\n", name, le, cumulative[i])
	}
	fmt.Fprintf(buf, "%s_count %d\n%s_sum 0\n", name, cumulative[len(cumulative)-1], name)
}

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeHelp(help string) string {
	return helpEscaper.Replace(help)
}

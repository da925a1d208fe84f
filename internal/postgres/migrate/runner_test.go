package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/mnemoforge/authcore/internal/postgres"
)

func TestRunRequiresDSN(t *testing.T) {
	err := Run("", "up")
	if err == nil || err.Error() != "DATABASE_URL is not set" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunRejectsUnknownDirection(t *testing.T) {
	for _, direction := range []string{"", "UP", "sideways"} {
		if err := Run("postgres://localhost/test", direction); err == nil || !strings.Contains(err.Error(), "direction") {
			t.Fatalf("direction %q: unexpected error %v", direction, err)
		}
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	files, err := fs.Glob(postgres.MigrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups[strings.TrimSuffix(f, ".up.sql")] = true
		case strings.HasSuffix(f, ".down.sql"):
			downs[strings.TrimSuffix(f, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", f)
		}
	}
	for name := range ups {
		if !downs[name] {
			t.Fatalf("%s has no down migration", name)
		}
	}
	if len(ups) != len(downs) {
		t.Fatalf("%d up vs %d down migrations", len(ups), len(downs))
	}
}

// Package internaldefs holds the metric names and histogram bounds used by
// the exporters, so renaming a metric happens in one place.
package internaldefs

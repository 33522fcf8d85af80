package plcheck

import (
	"fmt"
	"strings"
)

// Format selects the report serialization.
type Format int

// Supported output formats.
const (
	FormatText Format = iota
	FormatXML
	FormatJSON
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = fmt.Errorf(`only "text", "xml" and "json" formats are supported`)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text":
		return FormatText, nil
	case "xml":
		return FormatXML, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

func (f Format) String() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatJSON:
		return "json"
	default:
		return "text"
	}
}

// Options configure one check invocation. The zero value checks with fatal
// errors off and every warning category off; DefaultOptions matches the
// conventional defaults (fatal errors on, other warnings on).
type Options struct {
	// FatalErrors stops the current routine's scan at the first error.
	// Other routines in the same request are unaffected.
	FatalErrors bool

	// OtherWarnings enables the base warning set (shadowed and unused
	// declared variables, missing control-flow coverage hints).
	OtherWarnings bool

	// ExtraWarnings enables the "extra" category: unused parameters,
	// never-read variables, unmodified OUT parameters.
	ExtraWarnings bool

	// PerformanceWarnings enables implicit-cast and record-IO findings.
	PerformanceWarnings bool

	// SecurityWarnings enables unsafe dynamic SQL findings.
	SecurityWarnings bool

	// AllWarnings enables every warning category.
	AllWarnings bool

	// Format selects the rendering used by report.Render helpers.
	Format Format

	// TriggerTable names the relation a trigger routine is checked
	// against; required for trigger routines.
	TriggerTable string

	// OldTable and NewTable name the transition tables of a statement
	// trigger. Setting either for a non-trigger routine is an error.
	OldTable string
	NewTable string
}

// DefaultOptions returns the conventional defaults: fatal errors and the
// base warning set enabled, everything else off, text format.
func DefaultOptions() Options {
	return Options{
		FatalErrors:   true,
		OtherWarnings: true,
	}
}

// WarningEnabled reports whether the category is enabled by o.
func (o Options) WarningEnabled(c WarningCategory) bool {
	if o.AllWarnings {
		return true
	}

	switch c {
	case CategoryOthers:
		return o.OtherWarnings
	case CategoryExtra:
		return o.ExtraWarnings
	case CategoryPerformance:
		return o.PerformanceWarnings
	case CategorySecurity:
		return o.SecurityWarnings
	default:
		return true
	}
}

package plcheck

// Severity of a diagnostic.
type Severity int

// Severity levels. Only errors can stop a scan.
const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityNotice
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// WarningCategory subdivides warnings for the enable flags. Errors and
// notices carry CategoryNone.
type WarningCategory int

// Warning categories.
const (
	CategoryNone WarningCategory = iota
	CategoryOthers
	CategoryExtra
	CategoryPerformance
	CategorySecurity
)

func (c WarningCategory) String() string {
	switch c {
	case CategoryOthers:
		return "others"
	case CategoryExtra:
		return "extra"
	case CategoryPerformance:
		return "performance"
	case CategorySecurity:
		return "security"
	default:
		return ""
	}
}

// SQLSTATE-like codes attached to diagnostics.
const (
	CodeSuccess              = "00000" // warnings and notices
	CodeSyntaxError          = "42601"
	CodeUndefinedColumn      = "42703"
	CodeUndefinedObject      = "42704"
	CodeUndefinedTable       = "42P01"
	CodeUndefinedFunction    = "42883"
	CodeDuplicateObject      = "42710"
	CodeDatatypeMismatch     = "42804"
	CodeFeatureNotSupported  = "0A000"
	CodeInvalidTransaction   = "2D000" // invalid transaction termination
	CodeNoReturn             = "2F005" // function executed no return statement
	CodeUndefinedParameter   = "42P02"
	CodeRaiseException       = "P0001"
	CodeInvalidCursorName    = "34000"
	CodeAmbiguousColumn      = "42702"
	CodeWrongObjectType      = "42809"
	CodeTooManyRows          = "P0003"
	CodeInvalidParameterValue = "22023"
)

// Diagnostic is one finding. Immutable once created; collected in source
// order by the report collector.
type Diagnostic struct {
	Severity Severity
	Category WarningCategory
	Code     string // 5-character SQLSTATE-like code
	Line     int
	StmtID   int
	StmtType string // statement kind name, "" for routine-level findings
	Message  string
	Detail   string
	Hint     string

	// Query and Position carry the embedded query context and a 1-based
	// caret offset into it, when a finding points inside an SQL statement.
	Query    string
	Position int

	Context string
}

// IsError reports whether d has error severity.
func (d *Diagnostic) IsError() bool { return d.Severity == SeverityError }

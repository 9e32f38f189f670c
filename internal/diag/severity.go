package diag

import "strings"

// Severity defines the importance of a diagnostic.
type Severity uint8

const (
	// SevInfo is for informational diagnostics.
	SevInfo Severity = iota
	// SevWarning is for warning diagnostics.
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "info"
	case SevWarning:
		return "warning"
	case SevError:
		return "error"
	}
	return "unknown"
}

// LSP returns the DiagnosticSeverity value used on the editor wire.
func (s Severity) LSP() int {
	switch s {
	case SevError:
		return 1
	case SevWarning:
		return 2
	default:
		return 3
	}
}

// ParseSeverity accepts the names produced by String. Unknown names map to
// SevError.
func ParseSeverity(name string) Severity {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "info", "information", "hint":
		return SevInfo
	case "warn", "warning":
		return SevWarning
	default:
		return SevError
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

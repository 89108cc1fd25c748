package resolver

import (
	"fmt"
	"strings"
)

// Reason classifies a resolution failure
type Reason string

const (
	// NotFound means no candidate file exists for the specifier
	NotFound Reason = "NotFound"
	// Ambiguous means a package exists in more than one module directory at
	// the same level and the copies resolve to different entry files
	Ambiguous Reason = "Ambiguous"
)

// ResolutionError is returned when a specifier cannot be mapped to a file
type ResolutionError struct {
	Specifier  string
	FromDir    string
	Reason     Reason
	Candidates []string // conflicting entry files when Reason is Ambiguous
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %q from %s: %s", e.Specifier, e.FromDir, e.Reason)
	if len(e.Candidates) > 0 {
		msg += " (" + strings.Join(e.Candidates, ", ") + ")"
	}
	return msg
}

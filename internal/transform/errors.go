package transform

import "fmt"

// Reason classifies a transform failure
type Reason string

const (
	// Failed means a stage rejected its input, e.g. a syntax error
	Failed Reason = "Failed"
	// NoRule means no configured rule matches the file
	NoRule Reason = "NoRule"
	// Timeout means a stage did not finish within the transform timeout
	Timeout Reason = "Timeout"
)

// TransformError is returned when a file cannot be transformed. Stage is the
// failing stage kind, or "match" when no rule applies.
type TransformError struct {
	Path   string
	Stage  string
	Reason Reason
	Cause  error
}

func (e *TransformError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("transform %s failed at stage %s: %s", e.Path, e.Stage, e.Reason)
	}
	return fmt.Sprintf("transform %s failed at stage %s: %s: %v", e.Path, e.Stage, e.Reason, e.Cause)
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

package graph

import (
	"fmt"
	"strings"
)

// BuildError wraps the first resolution or transform failure of a build.
// Chain lists the importer chain from the entry to the failing module as
// root-relative paths; Specifier is the import that failed, or the import
// through which the failing module was reached.
type BuildError struct {
	Chain     []string
	Specifier string
	Err       error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	b.WriteString("build failed")
	if e.Specifier != "" {
		fmt.Fprintf(&b, " at import %q", e.Specifier)
	}
	if len(e.Chain) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Chain, " -> "))
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

package build

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/emit"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/resolver"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
)

// ExitCode maps a build error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// Summary renders err for the terminal. Build and emit failures show the
// import chain and the failing file; anything else is printed as is.
func Summary(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	var buildErr *graph.BuildError
	var emitErr *emit.EmitError

	switch {
	case errors.Is(err, context.Canceled):
		b.WriteString("Build canceled")
		return b.String()

	case errors.As(err, &buildErr):
		b.WriteString("Build failed\n")
		if len(buildErr.Chain) > 0 {
			fmt.Fprintf(&b, "  import chain: %s\n", strings.Join(buildErr.Chain, " -> "))
		}
		if buildErr.Specifier != "" {
			fmt.Fprintf(&b, "  import:       %q\n", buildErr.Specifier)
		}
		writeCause(&b, buildErr.Err)

	case errors.As(err, &emitErr):
		b.WriteString("Emit failed\n")
		fmt.Fprintf(&b, "  operation: %s\n", emitErr.Op)
		fmt.Fprintf(&b, "  path:      %s\n", emitErr.Path)
		fmt.Fprintf(&b, "  cause:     %v\n", emitErr.Cause)

	case errors.Is(err, context.DeadlineExceeded):
		b.WriteString("Build timed out")
		return b.String()

	default:
		fmt.Fprintf(&b, "Error: %v\n", err)
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func writeCause(b *strings.Builder, err error) {
	var resErr *resolver.ResolutionError
	var tErr *transform.TransformError

	switch {
	case errors.As(err, &resErr):
		fmt.Fprintf(b, "  cannot resolve %q from %s (%s)\n", resErr.Specifier, resErr.FromDir, resErr.Reason)
		for _, c := range resErr.Candidates {
			fmt.Fprintf(b, "    candidate: %s\n", c)
		}
	case errors.As(err, &tErr):
		fmt.Fprintf(b, "  transform of %s failed at stage %s (%s)\n", tErr.Path, tErr.Stage, tErr.Reason)
		if tErr.Cause != nil {
			for _, line := range strings.Split(strings.TrimSpace(tErr.Cause.Error()), "\n") {
				fmt.Fprintf(b, "    %s\n", line)
			}
		}
	default:
		fmt.Fprintf(b, "  %v\n", err)
	}
}

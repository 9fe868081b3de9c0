// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

// Overridden at build time, e.g.
// -X cexdex-arb/internal/version.Version=v1.2.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("cexdexarb %s (commit %s, built %s)", Version, Commit, BuildDate)
}

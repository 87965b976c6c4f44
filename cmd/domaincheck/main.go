package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/namelens/domaincheck/internal/cmd"
)

// Set via ldflags, e.g.
// go build -ldflags="-X main.version=0.4.0 -X main.commit=$(git rev-parse --short HEAD)" ./cmd/domaincheck
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands log their own failures; this only maps to an exit code.
		cmd.ExitWithCodeStderr(cmd.ExitCodeFor(err, foundry.ExitFailure), "domaincheck failed", err)
	}
}

// remotesh - remote session manager over ssh/scp
package main

import (
	"fmt"
	"os"

	"github.com/rescale/remotesh/internal/cli"
	"github.com/rescale/remotesh/internal/version"
)

// Version information, overridden by -ldflags at release build time.
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

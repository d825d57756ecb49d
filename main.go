// Command offlinesync-server is the direct entrypoint for running
// the daemon with `go run .`, without the subcommand surface
// cmd/offlinesyncd provides. It reads OFFLINESYNC_CONFIG for a config
// file path, falling back to defaults plus environment overrides.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/oceanreach/offlinesync/internal/app"
)

func main() {
	a, err := app.New(os.Getenv("OFFLINESYNC_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := a.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

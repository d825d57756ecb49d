// Command offlinesyncd runs the offline-sync engine as a standalone
// daemon, for deployments that run it out-of-process from the CMS
// rather than embedded as a library.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oceanreach/offlinesync/internal/app"
	"github.com/oceanreach/offlinesync/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "offlinesyncd",
		Short: "Offline-sync replication daemon",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newStartCmd(&configPath))
	root.AddCommand(newValidateCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	return root
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync engine and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("config valid: mode=%s shipId=%s brokers=%v\n", cfg.Mode, cfg.ShipID, cfg.Bus.Brokers)
			return nil
		},
	}
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the management API URL that reports the running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			fmt.Printf("query http://%s/sync/status for live fleet status\n", cfg.API.Listen)
			return nil
		},
	}
}

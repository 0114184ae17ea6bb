// Command eomatctl drives the eomat admin API from the command line.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maraichr/eomat/internal/config"
)

var (
	apiURL     string
	apiTimeout time.Duration
	jsonOutput bool

	api *client
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eomatctl",
		Short:         "Inspect and operate an eomat deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("api") {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				apiURL = cfg.APIURL
			}
			api = newClient(apiURL, apiTimeout)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "admin API base URL (default from EOMAT_API_URL)")
	root.PersistentFlags().DurationVar(&apiTimeout, "timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON")

	root.AddCommand(newCatalogCmd(), newSourcesCmd(), newProductsCmd(), newSweepCmd(), newReconcileCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

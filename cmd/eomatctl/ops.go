package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maraichr/eomat/internal/engine"
)

func newSweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Claim AVAILABLE products and dispatch processing jobs now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res engine.SweepResult
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if err := api.do(cmd.Context(), http.MethodPost, "/sweep", q, nil, &res); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "claimed %d, dispatched %d, rolled back %d\n", res.Claimed, res.Dispatched, res.RolledBack)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum products to claim")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Replay materialization over a reference date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res engine.ReconcileResult
			body := map[string]string{"from": from, "to": to}
			if err := api.do(cmd.Context(), http.MethodPost, "/reconcile", nil, body, &res); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d sources and %d products, re-evaluated %d\n", res.Sources, res.Products, res.Reevaluated)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first reference date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last reference date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

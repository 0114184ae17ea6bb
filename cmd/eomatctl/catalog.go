package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type groupRow struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	Discovery     string `json:"discovery"`
	Location      string `json:"location"`
	AutoDownload  bool   `json:"auto_download"`
	ExpectedCount int    `json:"expected_count"`
}

type pipelineRow struct {
	Name               string   `json:"name"`
	Inputs             []string `json:"inputs"`
	Output             string   `json:"output"`
	Function           string   `json:"function"`
	Template           string   `json:"template"`
	Enabled            bool     `json:"enabled"`
	Window             string   `json:"window"`
	RegenerateOnUpdate bool     `json:"regenerate_on_update"`
}

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Show the loaded groups and pipelines",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "groups",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Groups []groupRow `json:"groups"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/groups", nil, nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out.Groups)
			}
			rows := make([][]string, 0, len(out.Groups))
			for _, g := range out.Groups {
				rows = append(rows, []string{g.Name, g.Kind, orDash(g.Discovery), orDash(g.Location),
					strconv.FormatBool(g.AutoDownload), strconv.Itoa(g.ExpectedCount)})
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "KIND", "DISCOVERY", "LOCATION", "AUTO", "EXPECTED"}, rows)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pipelines",
		Short: "List pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Pipelines []pipelineRow `json:"pipelines"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/pipelines", nil, nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out.Pipelines)
			}
			rows := make([][]string, 0, len(out.Pipelines))
			for _, p := range out.Pipelines {
				rows = append(rows, []string{p.Name, strings.Join(p.Inputs, ","), p.Output, p.Function,
					p.Template, strconv.FormatBool(p.Enabled), orDash(p.Window)})
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "INPUTS", "OUTPUT", "FUNCTION", "TEMPLATE", "ENABLED", "WINDOW"}, rows)
		},
	})
	return cmd
}

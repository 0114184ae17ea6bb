package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maraichr/eomat/internal/completeness"
	"github.com/maraichr/eomat/pkg/models"
)

var productHeader = []string{"ID", "FILENAME", "GROUP", "DATE", "STATE", "ERROR"}

func productRows(products []models.Product) [][]string {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		msg := ""
		if p.ErrorMessage != nil {
			msg = *p.ErrorMessage
		}
		rows = append(rows, []string{p.ID.String(), p.Filename, p.Group,
			models.FormatDate(p.ReferenceDate), string(p.State), orDash(msg)})
	}
	return rows
}

func productAction(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Product
			if err := api.do(cmd.Context(), http.MethodPost, "/products/"+url.PathEscape(args[0])+"/"+use, nil, nil, &p); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), p)
			}
			return printTable(cmd.OutOrStdout(), productHeader, productRows([]models.Product{p}))
		},
	}
}

func newProductsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product", "prod"},
		Short:   "Inspect and manage derived products",
	}

	var lf listFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Products []models.Product `json:"products"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/products", lf.query(), nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out.Products)
			}
			return printTable(cmd.OutOrStdout(), productHeader, productRows(out.Products))
		},
	}
	lf.bind(list)

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p models.Product
			if err := api.do(cmd.Context(), http.MethodGet, "/products/"+url.PathEscape(args[0]), nil, nil, &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}

	complete := &cobra.Command{
		Use:   "completeness ID",
		Short: "Show how many inputs a product has against how many it needs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Complete bool                     `json:"complete"`
				Inputs   []completeness.Shortfall `json:"inputs"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/products/"+url.PathEscape(args[0])+"/completeness", nil, nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			rows := make([][]string, 0, len(out.Inputs))
			for _, s := range out.Inputs {
				rows = append(rows, []string{s.Group, string(s.Kind), strconv.Itoa(s.Have), strconv.Itoa(s.Want), strconv.FormatBool(s.Complete)})
			}
			if err := printTable(cmd.OutOrStdout(), []string{"INPUT", "KIND", "HAVE", "WANT", "COMPLETE"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "complete: %t\n", out.Complete)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a product, keeping it as IGNORE while consumers reference it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Product         models.Product `json:"product"`
				Ignored         bool           `json:"ignored"`
				ArtifactRemoved bool           `json:"artifact_removed"`
			}
			if err := api.do(cmd.Context(), http.MethodDelete, "/products/"+url.PathEscape(args[0]), nil, nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			switch {
			case out.Ignored:
				fmt.Fprintf(cmd.OutOrStdout(), "product %s kept as IGNORE (still referenced)\n", out.Product.Filename)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "product %s deleted\n", out.Product.Filename)
			}
			if out.ArtifactRemoved {
				fmt.Fprintln(cmd.OutOrStdout(), "artifact removed")
			}
			return nil
		},
	}

	var outPath string
	fetch := &cobra.Command{
		Use:   "fetch ID",
		Short: "Download the artifact of a READY product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			n, err := api.download(cmd.Context(), "/products/"+url.PathEscape(args[0])+"/artifact", w)
			if err != nil {
				return err
			}
			if outPath != "" && outPath != "-" {
				cmd.PrintErrf("wrote %d bytes to %s\n", n, outPath)
			}
			return nil
		},
	}
	fetch.Flags().StringVarP(&outPath, "output", "o", "", "write to this file instead of stdout")

	cmd.AddCommand(list, get, complete, del, fetch,
		productAction("retry", "Return a FAILED product to the pending pool"),
		productAction("ignore", "Exclude a product from processing"),
	)
	return cmd
}

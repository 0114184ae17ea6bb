package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maraichr/eomat/internal/discovery"
	"github.com/maraichr/eomat/pkg/models"
)

// listFlags are the filters shared by the sources and products list commands.
type listFlags struct {
	group, state, from, to string
	limit, offset          int
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.group, "group", "", "only rows of this group")
	cmd.Flags().StringVar(&f.state, "state", "", "only rows in this state")
	cmd.Flags().StringVar(&f.from, "from", "", "earliest reference date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "latest reference date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.limit, "limit", 100, "page size")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "page offset")
}

func (f *listFlags) query() url.Values {
	q := url.Values{}
	for k, v := range map[string]string{"group": f.group, "state": f.state, "from": f.from, "to": f.to} {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("limit", strconv.Itoa(f.limit))
	q.Set("offset", strconv.Itoa(f.offset))
	return q
}

func sourceRows(sources []models.Source) [][]string {
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		msg := ""
		if s.ErrorMessage != nil {
			msg = *s.ErrorMessage
		}
		rows = append(rows, []string{s.ID.String(), s.Filename, strings.Join(s.Groups, ","),
			models.FormatDate(s.ReferenceDate), string(s.State), orDash(msg)})
	}
	return rows
}

var sourceHeader = []string{"ID", "FILENAME", "GROUPS", "DATE", "STATE", "ERROR"}

// sourceAction builds a command that POSTs or DELETEs one source by ID.
func sourceAction(use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/sources/" + url.PathEscape(args[0]) + suffix
			if method == http.MethodDelete {
				if err := api.do(cmd.Context(), method, path, nil, nil, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "source %s deleted\n", args[0])
				return nil
			}
			var src models.Source
			if err := api.do(cmd.Context(), method, path, nil, nil, &src); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), src)
			}
			return printTable(cmd.OutOrStdout(), sourceHeader, sourceRows([]models.Source{src}))
		},
	}
}

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source", "src"},
		Short:   "Register and manage source files",
	}

	var lf listFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Sources []models.Source `json:"sources"`
			}
			if err := api.do(cmd.Context(), http.MethodGet, "/sources", lf.query(), nil, &out); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), out.Sources)
			}
			return printTable(cmd.OutOrStdout(), sourceHeader, sourceRows(out.Sources))
		},
	}
	lf.bind(list)

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src models.Source
			if err := api.do(cmd.Context(), http.MethodGet, "/sources/"+url.PathEscape(args[0]), nil, nil, &src); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), src)
		},
	}

	var reg struct {
		groups   []string
		url      string
		date     string
		size     int64
		download bool
	}
	register := &cobra.Command{
		Use:   "register FILENAME",
		Short: "Register a remote source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"filename": args[0],
				"groups":   reg.groups,
				"url":      reg.url,
				"download": reg.download,
			}
			if reg.date != "" {
				body["reference_date"] = reg.date
			}
			if reg.size > 0 {
				body["size_reported"] = reg.size
			}
			var src models.Source
			if err := api.do(cmd.Context(), http.MethodPost, "/sources", nil, body, &src); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), src)
			}
			return printTable(cmd.OutOrStdout(), sourceHeader, sourceRows([]models.Source{src}))
		},
	}
	register.Flags().StringSliceVar(&reg.groups, "group", nil, "source group (repeatable)")
	register.Flags().StringVar(&reg.url, "url", "", "remote URL")
	register.Flags().StringVar(&reg.date, "date", "", "reference date (YYYY-MM-DD), taken from the filename when omitted")
	register.Flags().Int64Var(&reg.size, "size", 0, "size reported by the remote listing")
	register.Flags().BoolVar(&reg.download, "download", false, "schedule the download right away")
	_ = register.MarkFlagRequired("group")
	_ = register.MarkFlagRequired("url")

	discover := &cobra.Command{
		Use:   "discover GROUP",
		Short: "Crawl a group's location and register what it lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res discovery.Result
			if err := api.do(cmd.Context(), http.MethodPost, "/groups/"+url.PathEscape(args[0])+"/discover", nil, nil, &res); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: listed %d, registered %d, existing %d, unmatched %d\n",
				res.Group, res.Listed, res.Registered, res.Existing, res.Unmatched)
			return nil
		},
	}

	cmd.AddCommand(list, get, register, discover,
		sourceAction("download", "Schedule a source download", http.MethodPost, "/download"),
		sourceAction("revoke", "Stop tracking a source that is not yet local", http.MethodPost, "/revoke"),
		sourceAction("delete", "Delete a source and its local file", http.MethodDelete, ""),
	)
	return cmd
}

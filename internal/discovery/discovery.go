// Package discovery crawls remote locations of source groups and registers
// the files it finds.
package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maraichr/eomat/internal/ledger"
	"github.com/maraichr/eomat/internal/metrics"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// Listing is one remote file found by a crawler.
type Listing struct {
	Name string
	URL  string
	Size int64
}

type Crawler interface {
	List(ctx context.Context, location string) ([]Listing, error)
}

// Result summarizes one discovery run.
type Result struct {
	Group      string `json:"group"`
	Listed     int    `json:"listed"`
	Registered int    `json:"registered"`
	Existing   int    `json:"existing"`
	Unmatched  int    `json:"unmatched"`
}

type Discoverer struct {
	ledger   *ledger.Ledger
	crawlers map[string]Crawler
	logger   *slog.Logger
}

func New(l *ledger.Ledger, logger *slog.Logger) *Discoverer {
	return &Discoverer{ledger: l, crawlers: make(map[string]Crawler), logger: logger}
}

// Register binds a crawler to a discovery mechanism tag such as "s3".
func (d *Discoverer) Register(mechanism string, c Crawler) {
	d.crawlers[mechanism] = c
}

// Discover lists the group's location and registers every file whose name
// yields a reference date. Already registered files are left untouched.
func (d *Discoverer) Discover(ctx context.Context, group string) (Result, error) {
	res := Result{Group: group}
	g, err := d.ledger.Catalog().Resolve(group)
	if err != nil {
		return res, err
	}
	if g.Kind != models.GroupKindSource {
		return res, fmt.Errorf("%w: %q is a product group", fault.ErrUnknownGroup, group)
	}
	crawler, ok := d.crawlers[g.Discovery]
	if !ok {
		return res, fault.Misconfigured("group %q: no crawler for discovery %q", group, g.Discovery)
	}

	listings, err := crawler.List(ctx, g.Location)
	if err != nil {
		return res, fmt.Errorf("crawl %s: %w", g.Location, err)
	}
	res.Listed = len(listings)

	for _, l := range listings {
		date, err := g.ExtractDate(l.Name)
		if err != nil {
			res.Unmatched++
			continue
		}
		var created bool
		err = d.ledger.Update(ctx, func(tx *ledger.Tx) error {
			_, created, err = tx.RegisterSource(ctx, ledger.RegisterSourceParams{
				Filename:      l.Name,
				Groups:        []string{g.Name},
				URL:           l.URL,
				SizeReported:  l.Size,
				ReferenceDate: date,
			})
			return err
		})
		if err != nil {
			return res, fmt.Errorf("register %s: %w", l.Name, err)
		}
		if created {
			res.Registered++
		} else {
			res.Existing++
		}
	}
	metrics.Discovered(group, res.Registered)
	d.logger.Info("discovery finished",
		slog.String("group", group),
		slog.Int("listed", res.Listed),
		slog.Int("registered", res.Registered),
		slog.Int("unmatched", res.Unmatched))
	return res, nil
}

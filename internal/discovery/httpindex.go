package discovery

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// HTTPIndexCrawler lists the files linked from an HTML directory index.
// Links to parent or sub-directories and query links are skipped.
type HTTPIndexCrawler struct {
	client *http.Client
}

func NewHTTPIndexCrawler(client *http.Client) *HTTPIndexCrawler {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPIndexCrawler{client: client}
}

func (c *HTTPIndexCrawler) List(ctx context.Context, location string) ([]Listing, error) {
	base, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get index %s: status %d", location, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	seen := make(map[string]bool)
	var out []Listing
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key != "href" {
					continue
				}
				if l, ok := listingFor(base, a.Val); ok && !seen[l.URL] {
					seen[l.URL] = true
					out = append(out, l)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return out, nil
}

func listingFor(base *url.URL, href string) (Listing, bool) {
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") || strings.HasSuffix(href, "/") {
		return Listing{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return Listing{}, false
	}
	abs := base.ResolveReference(ref)
	if abs.Host != base.Host || !strings.HasPrefix(abs.Path, base.Path) {
		return Listing{}, false
	}
	return Listing{Name: path.Base(abs.Path), URL: abs.String()}, true
}

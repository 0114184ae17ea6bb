package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// HTTP downloads http and https URLs. 202 Accepted means the remote side is
// still preparing the file and is reported as deferred.
type HTTP struct {
	client *http.Client
	creds  CredentialResolver
}

func NewHTTP(timeout time.Duration, creds CredentialResolver) *HTTP {
	return &HTTP{client: &http.Client{Timeout: timeout}, creds: creds}
}

func (h *HTTP) Download(ctx context.Context, src models.Source, dest string) (int64, error) {
	c, err := credentialsFor(h.creds, src)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return 0, fault.Fatal(fmt.Errorf("build request: %w", err))
	}
	switch {
	case c.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.Token)
	case c.User != "":
		req.SetBasicAuth(c.User, c.Password)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, fault.Retriable(fmt.Errorf("get %s: %w", src.URL, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, src.URL); err != nil {
		return 0, err
	}
	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return n, err
	}
	return n, checkSize(src, n)
}

func classifyStatus(code int, url string) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusAccepted:
		return fault.Deferred(fmt.Errorf("%s: remote file not ready", url))
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return fault.Retriable(fmt.Errorf("%s: status %d", url, code))
	default:
		return fault.Fatal(fmt.Errorf("%s: status %d", url, code))
	}
}

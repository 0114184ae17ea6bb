// Package transport fetches source files. Each URL scheme has one
// Transport; failures are classified as fault.RetriableError,
// fault.FatalError or fault.DeferredError so the download lifecycle can
// decide between retrying and failing.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

type Transport interface {
	// Download writes the source to dest and returns the bytes written.
	Download(ctx context.Context, src models.Source, dest string) (int64, error)
}

type Registry struct {
	byScheme map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{byScheme: make(map[string]Transport)}
}

func (r *Registry) Register(scheme string, t Transport) {
	r.byScheme[strings.ToLower(scheme)] = t
}

// For returns the transport for rawURL's scheme. An unsupported scheme is
// fatal.
func (r *Registry) For(rawURL string) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fault.Fatal(fmt.Errorf("parse url %q: %w", rawURL, err))
	}
	t, ok := r.byScheme[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fault.Fatal(fmt.Errorf("no transport for scheme %q", u.Scheme))
	}
	return t, nil
}

// Download resolves the transport for src.URL and runs it.
func (r *Registry) Download(ctx context.Context, src models.Source, dest string) (int64, error) {
	t, err := r.For(src.URL)
	if err != nil {
		return 0, err
	}
	return t.Download(ctx, src, dest)
}

// Credentials are the secrets behind a source's credential reference.
type Credentials struct {
	User     string
	Password string
	Token    string
}

type CredentialResolver interface {
	Resolve(ref string) (Credentials, error)
}

// EnvCredentials resolves reference NAME from EOMAT_CRED_NAME_USER,
// EOMAT_CRED_NAME_PASSWORD and EOMAT_CRED_NAME_TOKEN.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(ref string) (Credentials, error) {
	key := "EOMAT_CRED_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(ref))
	c := Credentials{
		User:     os.Getenv(key + "_USER"),
		Password: os.Getenv(key + "_PASSWORD"),
		Token:    os.Getenv(key + "_TOKEN"),
	}
	if c == (Credentials{}) {
		return c, fmt.Errorf("no credentials configured for %q", ref)
	}
	return c, nil
}

// credentialsFor resolves src's credential reference. Sources without one get
// empty credentials. A reference that cannot be resolved is fatal.
func credentialsFor(res CredentialResolver, src models.Source) (Credentials, error) {
	if src.Credentials == nil || *src.Credentials == "" || res == nil {
		return Credentials{}, nil
	}
	c, err := res.Resolve(*src.Credentials)
	if err != nil {
		return c, fault.Fatal(err)
	}
	return c, nil
}

// writeFile streams r into dest. Copy failures are retriable.
func writeFile(dest string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fault.Fatal(fmt.Errorf("create %s: %w", filepath.Dir(dest), err))
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fault.Fatal(fmt.Errorf("create %s: %w", dest, err))
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return n, fault.Retriable(fmt.Errorf("write %s: %w", dest, err))
	}
	return n, nil
}

// checkSize reports a truncated transfer as retriable.
func checkSize(src models.Source, n int64) error {
	if src.SizeReported > 0 && n != src.SizeReported {
		return fault.Retriable(fmt.Errorf("%s: got %d bytes, expected %d", src.Filename, n, src.SizeReported))
	}
	return nil
}

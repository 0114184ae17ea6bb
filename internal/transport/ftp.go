package transport

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// FTP downloads ftp:// URLs. Anonymous login is used when the source has no
// credentials.
type FTP struct {
	timeout time.Duration
	creds   CredentialResolver
}

func NewFTP(timeout time.Duration, creds CredentialResolver) *FTP {
	return &FTP{timeout: timeout, creds: creds}
}

func (t *FTP) Download(ctx context.Context, src models.Source, dest string) (int64, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return 0, fault.Fatal(err)
	}
	c, err := credentialsFor(t.creds, src)
	if err != nil {
		return 0, err
	}
	if c.User == "" {
		c.User, c.Password = "anonymous", "anonymous"
	}
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.timeout))
	if err != nil {
		return 0, fault.Retriable(fmt.Errorf("dial %s: %w", host, err))
	}
	defer conn.Quit()

	if err := conn.Login(c.User, c.Password); err != nil {
		return 0, fault.Fatal(fmt.Errorf("login %s: %w", host, err))
	}
	resp, err := conn.Retr(u.Path)
	if err != nil {
		return 0, classifyFTP(src.URL, err)
	}
	defer resp.Close()

	n, err := writeFile(dest, resp)
	if err != nil {
		return n, err
	}
	return n, checkSize(src, n)
}

// classifyFTP treats permanent 5xx replies as fatal and everything else as
// retriable.
func classifyFTP(url string, err error) error {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 500 {
		return fault.Fatal(fmt.Errorf("%s: %w", url, err))
	}
	return fault.Retriable(fmt.Errorf("%s: %w", url, err))
}

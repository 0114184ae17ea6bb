package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// SFTP downloads sftp:// URLs over SSH with password authentication.
type SFTP struct {
	timeout    time.Duration
	creds      CredentialResolver
	knownHosts string
}

// NewSFTP verifies host keys against knownHosts; an empty path accepts any
// host key.
func NewSFTP(timeout time.Duration, creds CredentialResolver, knownHosts string) *SFTP {
	return &SFTP{timeout: timeout, creds: creds, knownHosts: knownHosts}
}

func (t *SFTP) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.knownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return knownhosts.New(t.knownHosts)
}

func (t *SFTP) Download(ctx context.Context, src models.Source, dest string) (int64, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return 0, fault.Fatal(err)
	}
	c, err := credentialsFor(t.creds, src)
	if err != nil {
		return 0, err
	}
	hk, err := t.hostKeyCallback()
	if err != nil {
		return 0, fault.Fatal(fmt.Errorf("known hosts: %w", err))
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "22")
	}

	d := net.Dialer{Timeout: t.timeout}
	raw, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return 0, fault.Retriable(fmt.Errorf("dial %s: %w", host, err))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(raw, host, &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.Password(c.Password)},
		HostKeyCallback: hk,
		Timeout:         t.timeout,
	})
	if err != nil {
		raw.Close()
		return 0, fault.Fatal(fmt.Errorf("ssh handshake %s: %w", host, err))
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return 0, fault.Retriable(fmt.Errorf("sftp session %s: %w", host, err))
	}
	defer sc.Close()

	f, err := sc.Open(u.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return 0, fault.Fatal(fmt.Errorf("%s: %w", src.URL, err))
		}
		return 0, fault.Retriable(fmt.Errorf("%s: %w", src.URL, err))
	}
	defer f.Close()

	n, err := writeFile(dest, f)
	if err != nil {
		return n, err
	}
	return n, checkSize(src, n)
}

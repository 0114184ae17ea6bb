package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// File copies file:// URLs from a mounted filesystem.
type File struct{}

func (File) Download(_ context.Context, src models.Source, dest string) (int64, error) {
	u, err := url.Parse(src.URL)
	if err != nil {
		return 0, fault.Fatal(err)
	}
	f, err := os.Open(u.Path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fault.Fatal(fmt.Errorf("%s: %w", src.URL, err))
	}
	if err != nil {
		return 0, fault.Retriable(fmt.Errorf("%s: %w", src.URL, err))
	}
	defer f.Close()
	n, err := writeFile(dest, f)
	if err != nil {
		return n, err
	}
	return n, checkSize(src, n)
}

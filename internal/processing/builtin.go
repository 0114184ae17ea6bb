package processing

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/maraichr/eomat/pkg/models"
)

// Bundle zips every input. Kwarg compression=store disables deflate.
type Bundle struct{}

func (Bundle) Process(ctx context.Context, req Request, w io.Writer) error {
	method := zip.Deflate
	if req.Kwargs["compression"] == "store" {
		method = zip.Store
	}
	zw := zip.NewWriter(w)
	for _, in := range req.Inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr := &zip.FileHeader{Name: in.Group + "/" + in.Name, Method: method}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip %s: %w", in.Name, err)
		}
		if err := copyInput(ctx, in, fw); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Passthrough copies its single input unchanged.
type Passthrough struct{}

func (Passthrough) Process(ctx context.Context, req Request, w io.Writer) error {
	if len(req.Inputs) != 1 {
		return fmt.Errorf("passthrough needs exactly one input, got %d", len(req.Inputs))
	}
	return copyInput(ctx, req.Inputs[0], w)
}

// Manifest writes a JSON listing of the inputs with their sizes and digests.
type Manifest struct{}

type manifestEntry struct {
	Name   string `json:"name"`
	Group  string `json:"group"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type manifestDoc struct {
	Product       string            `json:"product"`
	ReferenceDate string            `json:"reference_date"`
	Kwargs        map[string]string `json:"kwargs,omitempty"`
	Inputs        []manifestEntry   `json:"inputs"`
}

func (Manifest) Process(ctx context.Context, req Request, w io.Writer) error {
	doc := manifestDoc{
		Product:       req.Product.Filename,
		ReferenceDate: models.FormatDate(req.ReferenceDate),
		Kwargs:        req.Kwargs,
		Inputs:        make([]manifestEntry, 0, len(req.Inputs)),
	}
	for _, in := range req.Inputs {
		h := sha256.New()
		cw := &countingWriter{w: h}
		if err := copyInput(ctx, in, cw); err != nil {
			return err
		}
		doc.Inputs = append(doc.Inputs, manifestEntry{
			Name:   in.Name,
			Group:  in.Group,
			Size:   cw.n,
			SHA256: hex.EncodeToString(h.Sum(nil)),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func copyInput(ctx context.Context, in Input, w io.Writer) error {
	rc, err := in.Open(ctx)
	if err != nil {
		return fmt.Errorf("open input %s: %w", in.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("read input %s: %w", in.Name, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

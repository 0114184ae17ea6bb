package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/maraichr/eomat/internal/config"
	"github.com/maraichr/eomat/pkg/fault"
	"github.com/maraichr/eomat/pkg/models"
)

// S3 downloads s3://bucket/key URLs. Works with both AWS S3 and MinIO.
type S3 struct {
	client *s3.Client
}

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg appconfig.S3Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	}), nil
}

func NewS3(client *s3.Client) *S3 {
	return &S3{client: client}
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (t *S3) Download(ctx context.Context, src models.Source, dest string) (int64, error) {
	bucket, key, err := ParseS3URL(src.URL)
	if err != nil {
		return 0, fault.Fatal(err)
	}
	resp, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, classifyS3(src.URL, err)
	}
	defer resp.Body.Close()

	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return n, err
	}
	return n, checkSize(src, n)
}

func classifyS3(url string, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fault.Fatal(fmt.Errorf("%s: %w", url, err))
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidObjectState":
			return fault.Fatal(fmt.Errorf("%s: %w", url, err))
		}
	}
	return fault.Retriable(fmt.Errorf("%s: %w", url, err))
}

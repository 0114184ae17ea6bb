package discovery

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/maraichr/eomat/internal/transport"
)

// S3Crawler lists objects under an s3://bucket/prefix location.
type S3Crawler struct {
	client *s3.Client
}

func NewS3Crawler(client *s3.Client) *S3Crawler {
	return &S3Crawler{client: client}
}

func (c *S3Crawler) List(ctx context.Context, location string) ([]Listing, error) {
	bucket, prefix, err := transport.ParseS3URL(location)
	if err != nil {
		return nil, err
	}
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var out []Listing
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			key := *obj.Key
			// Skip "directory" markers
			if strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, Listing{
				Name: path.Base(key),
				URL:  "s3://" + bucket + "/" + key,
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

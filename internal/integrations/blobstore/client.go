// Package blobstore fetches per-tenant NLU key material from S3. Key files
// are provisioned out of band as <prefix>/<ref>.json.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxBlobSize bounds the key material read; credential files are small.
const maxBlobSize = 1 << 20

// s3API is the minimal S3 interface required by Client.
// *s3.Client from aws-sdk-go-v2 satisfies this interface.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client reads key material blobs from one bucket under a fixed key prefix.
type Client struct {
	api    s3API
	bucket string
	prefix string
}

// New creates a Client. prefix may be empty for bucket-root layouts.
func New(api s3API, bucket, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("blobstore: api must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("blobstore: bucket must not be empty")
	}
	return &Client{
		api:    api,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}, nil
}

// FetchKeyMaterialBlob reads the key material document referenced by ref.
func (c *Client) FetchKeyMaterialBlob(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("blobstore: key material ref must not be empty")
	}

	key := ref + ".json"
	if c.prefix != "" {
		key = c.prefix + "/" + key
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get object %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(out.Body, maxBlobSize))
	if err != nil {
		return nil, fmt.Errorf("blobstore: read object %q: %w", key, err)
	}
	return buf, nil
}

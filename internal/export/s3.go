package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures Uploader.
type S3Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// Uploader puts snapshots into an S3-compatible bucket.
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewUploader creates an uploader. No request is made until Upload.
func NewUploader(opts S3Options) (*Uploader, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("export: s3 endpoint and bucket are required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, errors.New("export: s3 access key and secret key are required")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	mc, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Region:       region,
		Secure:       opts.Secure,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return &Uploader{
		client: mc,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
	}, nil
}

// Key returns the object key for name.
func (u *Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload stores snap under name and returns the object key. A name ending
// in CompressedSuffix is zstd-compressed.
func (u *Uploader) Upload(ctx context.Context, name string, snap Snapshot) (string, error) {
	compressed := strings.HasSuffix(name, CompressedSuffix)
	data, err := Marshal(snap, compressed)
	if err != nil {
		return "", err
	}

	contentType := "application/json"
	if compressed {
		contentType = "application/zstd"
	}
	key := u.Key(name)
	_, err = u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("export s3://%s/%s: %w", u.bucket, key, err)
	}
	return key, nil
}

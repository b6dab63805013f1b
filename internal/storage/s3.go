// Package storage persists original uploads in S3.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
)

// KeyPrefix is the folder every upload lands in.
const KeyPrefix = "uploads/"

// ErrStorageWrite indicates the object could not be written.
var ErrStorageWrite = errors.New("object storage write failed")

// PutObjectAPI is the subset of the S3 client used here.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes objects to a single bucket.
type Uploader struct {
	client PutObjectAPI
	bucket string
	region string
	logger *slog.Logger
}

// NewUploader creates an Uploader for bucket in region.
func NewUploader(client PutObjectAPI, bucket, region string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		client: client,
		bucket: bucket,
		region: region,
		logger: logger.With("component", "storage"),
	}
}

// Upload stores body under key and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrStorageWrite, key, err)
	}

	url := PublicURL(u.bucket, u.region, key)
	u.logger.DebugContext(ctx, "object stored", "key", key, "content_type", contentType)
	return url, nil
}

// PublicURL returns the virtual-hosted style URL of key.
func PublicURL(bucket, region, key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, region, key)
}

// ObjectKey builds a unique key for an upload made at now. The extension of
// filename is kept, lowercased.
func ObjectKey(now time.Time, filename string) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)
	return KeyPrefix + id.String() + strings.ToLower(filepath.Ext(filename))
}

// Package storage uploads lesion images and Grad-CAM overlays to an
// S3-compatible bucket and returns their public URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/iliyamo/dermascan/internal/config"
)

// Key prefixes inside the bucket.
const (
	UploadsPrefix = "uploads"
	GradcamPrefix = "gradcam"
)

// Client wraps an S3 client bound to one bucket.
type Client struct {
	s3        *s3.Client
	bucket    string
	publicURL string
}

// New builds a Client from cfg.  Endpoint overrides the AWS resolver so the
// same code talks to DigitalOcean Spaces, R2 or MinIO.
func New(ctx context.Context, cfg config.StorageConfig) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Client{s3: client, bucket: cfg.Bucket, publicURL: PublicBase(cfg)}, nil
}

// PublicBase returns the URL prefix under which objects are publicly served.
// With no explicit public URL it is https://<bucket>.<endpoint host>.
func PublicBase(cfg config.StorageConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}
	if cfg.Endpoint == "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	host := cfg.Endpoint
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("https://%s.%s", cfg.Bucket, host)
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey builds "<prefix>/<unix ms>_<name>".  The name is reduced to a safe
// base name; an empty result falls back to a random uuid.
func ObjectKey(prefix, name string, now time.Time) string {
	base := unsafeKeyChars.ReplaceAllString(path.Base(strings.ReplaceAll(name, "\\", "/")), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = uuid.NewString()
	}
	return fmt.Sprintf("%s/%d_%s", prefix, now.UnixMilli(), base)
}

// URL returns the public URL of key.
func (c *Client) URL(key string) string {
	return c.publicURL + "/" + key
}

// Put uploads body under key with a public-read ACL and returns its URL.
func (c *Client) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", err
	}
	return c.URL(key), nil
}

// Delete removes key.  It undoes a Put whose follow-up database write failed.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}

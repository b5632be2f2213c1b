package staging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/core"
	"github.com/sciexp/flytezen/schema"
)

// Config configures the S3-compatible staging store.
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UseSSL       bool
	CreateBucket bool
}

// Validate reports the first missing or malformed field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("staging endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("staging access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("staging secret key is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("staging endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}

// NewMinIOClient returns a client for cfg.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// MinIOUploader uploads source bundles with the MinIO client.
type MinIOUploader struct {
	client *minio.Client
	region string
	// CreateBucket creates a missing bucket before uploading.
	CreateBucket bool
}

var _ core.Uploader = (*MinIOUploader)(nil)

// NewMinIOUploader builds an uploader from cfg.
func NewMinIOUploader(cfg Config) (*MinIOUploader, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinIOUploader{client: client, region: cfg.Region, CreateBucket: cfg.CreateBucket}, nil
}

// NewMinIOUploaderWithClient wraps an existing client.
func NewMinIOUploaderWithClient(client *minio.Client) (*MinIOUploader, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinIOUploader{client: client}, nil
}

// Upload copies the bundle file to loc.
func (u *MinIOUploader) Upload(ctx context.Context, bundle core.SourceBundle, loc schema.StagingLocation) error {
	if u == nil || u.client == nil {
		return errors.New("minio uploader not initialized")
	}
	if loc.Bucket == "" || loc.Key == "" {
		return fmt.Errorf("invalid staging location %q", loc.NativeURL)
	}
	log := pslog.Ctx(ctx).With("bucket", loc.Bucket, "key", loc.Key)
	if u.CreateBucket {
		if err := ensureBucket(ctx, u.client, loc.Bucket, u.region); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", loc.Bucket, err)
		}
	}
	info, err := u.client.FPutObject(ctx, loc.Bucket, loc.Key, bundle.Path, minio.PutObjectOptions{
		ContentType:  "application/gzip",
		UserMetadata: map[string]string{"sha256": bundle.Digest},
	})
	if err != nil {
		log.Warn("staging upload failed", "err", err)
		return fmt.Errorf("upload %s: %w", loc.NativeURL, err)
	}
	log.Debug("staging upload ok", "bytes", info.Size, "etag", info.ETag)
	return nil
}

// CheckBucket verifies that bucket exists and is reachable.
func (u *MinIOUploader) CheckBucket(ctx context.Context, bucket string) error {
	if u == nil || u.client == nil {
		return errors.New("minio uploader not initialized")
	}
	exists, err := u.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket %s exists: %w", bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", bucket)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

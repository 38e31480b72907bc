package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/szibis/request-toolbar/internal/logging"
)

const expiresAtMeta = "expires-at"

// MinIOConfig configures an S3 compatible snapshot store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Secure    bool
	// Prefix is prepended to every object name.
	Prefix string
	// Suffix is appended to every object name, e.g. ".json.zst".
	Suffix string
}

// MinIO stores entries as objects. Expiry is carried in object metadata and
// enforced on read; a bucket lifecycle rule should remove stale objects.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
	suffix string
	now    func() time.Time
}

// NewMinIO connects to the endpoint and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg MinIOConfig) (*MinIO, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("cache: minio bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("cache: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("cache: create bucket %s: %w", cfg.Bucket, err)
		}
		logging.Info("cache bucket created", logging.F("bucket", cfg.Bucket, "endpoint", cfg.Endpoint))
	}

	return &MinIO{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		suffix: cfg.Suffix,
		now:    time.Now,
	}, nil
}

// ObjectName returns the object a key is stored under.
func (s *MinIO) ObjectName(key string) string {
	return s.prefix + key + s.suffix
}

// Set implements Store.
func (s *MinIO) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if ttl > 0 {
		opts.UserMetadata = map[string]string{expiresAtMeta: s.now().Add(ttl).UTC().Format(time.RFC3339Nano)}
	}
	_, err := s.client.PutObject(ctx, s.bucket, s.ObjectName(key), bytes.NewReader(value), int64(len(value)), opts)
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", s.ObjectName(key), err)
	}
	return nil
}

// Get implements Store. Expired objects are removed on a best effort basis.
func (s *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	name := s.ObjectName(key)
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError(name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, translateMinIOError(name, err)
	}
	if expiresAt, ok := objectExpiry(info); ok && !s.now().Before(expiresAt) {
		if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
			logging.Debug("cache expired object removal failed", logging.F("object", name, "error", err.Error()))
		}
		return nil, ErrNotFound
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinIOError(name, err)
	}
	return data, nil
}

// Ping checks that the bucket is reachable.
func (s *MinIO) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cache: bucket %s does not exist", s.bucket)
	}
	return nil
}

func translateMinIOError(name string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return fmt.Errorf("cache: get %s: %w", name, err)
}

func objectExpiry(info minio.ObjectInfo) (time.Time, bool) {
	raw := ""
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, expiresAtMeta) {
			raw = v
			break
		}
	}
	if raw == "" && info.Metadata != nil {
		raw = info.Metadata.Get("X-Amz-Meta-" + expiresAtMeta)
	}
	return parseExpiry(raw)
}

func parseExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

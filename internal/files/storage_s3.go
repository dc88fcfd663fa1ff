package files

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"audiocache/internal/logging"
)

// S3Client is the subset of *minio.Client used by S3Mirror.
type S3Client interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// S3Config holds configuration for the S3-compatible mirror.
type S3Config struct {
	Endpoint  string // S3_ENDPOINT
	AccessKey string // S3_ACCESS_KEY
	SecretKey string // S3_SECRET_KEY
	Bucket    string // S3_BUCKET
	Prefix    string // S3_PREFIX - optional folder prefix for all objects
	UseSSL    bool   // S3_USE_SSL
}

// S3Mirror copies published artifacts to an S3-compatible bucket so clients
// can be handed a presigned direct URL. The local store stays authoritative;
// mirrored objects are removed alongside their local artifact.
type S3Mirror struct {
	client S3Client
	bucket string
	prefix string
	format string
}

// NewS3Mirror connects to the configured endpoint and ensures the bucket exists.
func NewS3Mirror(ctx context.Context, cfg S3Config, format string) (*S3Mirror, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	logging.S3.Printf("initializing mirror (bucket=%s, prefix=%s, endpoint=%s)", cfg.Bucket, cfg.Prefix, cfg.Endpoint)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
		logging.S3.Printf("created bucket %s", cfg.Bucket)
	}

	return NewS3MirrorWithClient(client, cfg.Bucket, cfg.Prefix, format), nil
}

// NewS3MirrorWithClient builds a mirror around an existing client.
func NewS3MirrorWithClient(client S3Client, bucket, prefix, format string) *S3Mirror {
	if format == "" {
		format = DefaultFormat
	}
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix, format: format}
}

func (m *S3Mirror) object(key string) string {
	name := key + "." + m.format
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload copies a published artifact to the bucket.
func (m *S3Mirror) Upload(ctx context.Context, a *Artifact) error {
	obj := m.object(a.Key)
	info, err := m.client.FPutObject(ctx, m.bucket, obj, a.Path, minio.PutObjectOptions{
		ContentType: ContentTypeFor(filepath.Ext(a.Path)),
	})
	if err != nil {
		logging.S3.Printf("upload failed for %s: %v", obj, err)
		return err
	}
	logging.S3.Printf("uploaded %s (%d bytes)", obj, info.Size)
	return nil
}

// Remove deletes the mirrored object for key. Missing objects are not an error.
func (m *S3Mirror) Remove(ctx context.Context, key string) error {
	obj := m.object(key)
	err := m.client.RemoveObject(ctx, m.bucket, obj, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		logging.S3.Printf("failed to delete %s: %v", obj, err)
		return err
	}
	return nil
}

// DirectURL returns a presigned GET URL for key valid for ttl.
func (m *S3Mirror) DirectURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, m.object(key), ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

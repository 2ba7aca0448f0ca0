package artifacts

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// S3Config configures an S3-compatible store.
type S3Config struct {
	Endpoint        string
	AccessKey       string
	SecretKey       string
	Region          string
	UseSSL          bool
	SignedURLs      bool
	SignedURLExpiry time.Duration
	// PublicBaseURL overrides the endpoint in returned URLs.
	PublicBaseURL string
}

// S3Store stores objects in S3 or MinIO.
type S3Store struct {
	client  *minio.Client
	cfg     S3Config
	logger  *observability.Logger
	buckets sync.Map // bucket name -> struct{}
}

// NewS3Store connects to the endpoint. It does not touch the network.
func NewS3Store(cfg S3Config, logger *observability.Logger) (*S3Store, error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, domain.ConfigError("invalid object storage configuration", err)
	}
	if cfg.SignedURLExpiry <= 0 {
		cfg.SignedURLExpiry = 24 * time.Hour
	}
	return &S3Store{client: client, cfg: cfg, logger: logger.WithOperation("artifacts")}, nil
}

// Upload implements Store.
func (s *S3Store) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	s.ensureBucket(ctx, bucket)

	opts := minio.PutObjectOptions{ContentType: contentType(filePath)}
	if _, err := s.client.FPutObject(ctx, bucket, dest, filePath, opts); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.UploadError(fmt.Sprintf("failed to upload %s/%s", bucket, dest), err)
	}

	if s.cfg.SignedURLs {
		u, err := s.client.PresignedGetObject(ctx, bucket, dest, s.cfg.SignedURLExpiry, nil)
		if err != nil {
			return "", domain.UploadError(fmt.Sprintf("failed to sign URL for %s/%s", bucket, dest), err)
		}
		return u.String(), nil
	}
	return s.publicURL(bucket, dest), nil
}

// Download implements Store.
func (s *S3Store) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	if err := s.client.FGetObject(ctx, bucket, src, destPath, minio.GetObjectOptions{}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return "", fmt.Errorf("%s/%s: %w", bucket, src, domain.ErrNotFound)
		}
		return "", domain.IOError(fmt.Sprintf("failed to download %s/%s", bucket, src), err)
	}
	return destPath, nil
}

// ensureBucket creates the bucket on first use. Failures are logged only; the
// upload that follows reports the real problem.
func (s *S3Store) ensureBucket(ctx context.Context, bucket string) {
	if _, ok := s.buckets.Load(bucket); ok {
		return
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err == nil && !exists {
		err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
		if err == nil {
			s.logger.Info().Str("bucket", bucket).Msg("Created bucket")
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("bucket", bucket).Msg("Could not ensure bucket exists")
		return
	}
	s.buckets.Store(bucket, struct{}{})
}

func (s *S3Store) publicURL(bucket, key string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		base = s.client.EndpointURL().String()
	}
	return base + "/" + bucket + "/" + escapeKey(key)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package artifacts

import (
	"fmt"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/config"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// NewFromConfig builds the configured store wrapped with retries and, when
// enabled, a rate limit.
func NewFromConfig(cfg config.ArtifactsConfig, logger *observability.Logger) (Store, error) {
	var (
		base Store
		err  error
	)
	switch cfg.Driver {
	case "local", "":
		base, err = NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		base, err = NewS3Store(S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKey:       cfg.S3.AccessKey,
			SecretKey:       cfg.S3.SecretKey,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
			SignedURLs:      cfg.S3.SignedURLs,
			SignedURLExpiry: cfg.S3.SignedURLExpiry,
			PublicBaseURL:   cfg.PublicBaseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported artifacts driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	retrying := WithRetry(base, RetryConfig{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger)
	return WithRateLimit(retrying, cfg.UploadsPerSecond), nil
}

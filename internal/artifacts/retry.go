package artifacts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns three attempts starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
	}
}

// Retrying retries failed transfers with exponential backoff.
type Retrying struct {
	next   Store
	cfg    RetryConfig
	logger *observability.Logger
}

// WithRetry wraps next.
func WithRetry(next Store, cfg RetryConfig, logger *observability.Logger) *Retrying {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Retrying{next: next, cfg: cfg, logger: logger}
}

// Upload implements Store.
func (r *Retrying) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	var url string
	err := r.do(ctx, "upload", bucket+"/"+dest, func() error {
		var err error
		url, err = r.next.Upload(ctx, filePath, bucket, dest)
		return err
	})
	if err != nil {
		if isPermanent(err) || ctx.Err() != nil {
			return "", err
		}
		return "", domain.UploadError(fmt.Sprintf("upload of %s/%s failed after %d attempts", bucket, dest, r.cfg.MaxAttempts), err)
	}
	return url, nil
}

// Download implements Store.
func (r *Retrying) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	var out string
	err := r.do(ctx, "download", bucket+"/"+src, func() error {
		var err error
		out, err = r.next.Download(ctx, bucket, src, destPath)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op, object string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) || ctx.Err() != nil {
			return lastErr
		}

		// Don't wait after last attempt
		if attempt == r.cfg.MaxAttempts-1 {
			break
		}

		backoff := r.backoff(attempt)
		r.logger.Warn().
			Err(lastErr).
			Str("op", op).
			Str("object", object).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Transfer failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// backoff is InitialBackoff * 2^attempt, capped at MaxBackoff.
func (r *Retrying) backoff(attempt int) time.Duration {
	d := float64(r.cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if r.cfg.MaxBackoff > 0 && d > float64(r.cfg.MaxBackoff) {
		d = float64(r.cfg.MaxBackoff)
	}
	return time.Duration(d)
}

func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		domain.IsType(err, domain.ErrorTypeValidation) ||
		domain.IsType(err, domain.ErrorTypeConfig)
}

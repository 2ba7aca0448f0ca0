package artifacts

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttled limits the transfer rate of the wrapped store.
type Throttled struct {
	next    Store
	limiter *rate.Limiter
}

// WithRateLimit allows perSecond transfers with a burst of one second's worth.
// A non-positive rate returns next unchanged.
func WithRateLimit(next Store, perSecond float64) Store {
	if perSecond <= 0 {
		return next
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Upload implements Store.
func (t *Throttled) Upload(ctx context.Context, filePath, bucket, dest string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Upload(ctx, filePath, bucket, dest)
}

// Download implements Store.
func (t *Throttled) Download(ctx context.Context, bucket, src, destPath string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return t.next.Download(ctx, bucket, src, destPath)
}

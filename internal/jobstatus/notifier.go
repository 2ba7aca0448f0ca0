package jobstatus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

// Notifier receives every status change after it has been applied.
// Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, status domain.JobStatus)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, status domain.JobStatus)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, status domain.JobStatus) {
	f(ctx, status)
}

type multiNotifier []Notifier

func (m multiNotifier) Notify(ctx context.Context, status domain.JobStatus) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, status)
		}
	}
}

// Publisher is satisfied by cache.RedisClient.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// PublishNotifier forwards status changes to a pub/sub channel.
type PublishNotifier struct {
	publisher Publisher
	channel   string
	timeout   time.Duration
	logger    *observability.Logger
}

// NewPublishNotifier creates a notifier publishing on channel.
func NewPublishNotifier(p Publisher, channel string, logger *observability.Logger) *PublishNotifier {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PublishNotifier{
		publisher: p,
		channel:   channel,
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

// Notify publishes the status. Errors are logged only.
func (n *PublishNotifier) Notify(ctx context.Context, status domain.JobStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	payload, err := json.Marshal(status)
	if err == nil {
		err = n.publisher.Publish(ctx, n.channel, payload)
	}
	if err != nil {
		n.logger.Warn().Err(err).
			Str("job_id", status.JobID).
			Str("channel", n.channel).
			Msg("Failed to publish status event")
	}
}

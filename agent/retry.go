package agent

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultGenerateAttempts = 1
	defaultBaseBackoff      = 200 * time.Millisecond
	defaultMaxBackoff       = 2 * time.Second
)

// RetryPolicy bounds how often a failed generation is attempted again. A
// generation is only retried while nothing from it has reached the client.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultGenerateAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	p.MaxBackoff = max(p.MaxBackoff, p.BaseBackoff)
	return p
}

// backoff is the pause before the given retry (1-based): BaseBackoff
// doubled per earlier retry, capped at MaxBackoff.
func (p RetryPolicy) backoff(retry int) time.Duration {
	delay := p.BaseBackoff
	for i := 1; i < retry && delay < p.MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, p.MaxBackoff)
}

// pause waits out the backoff before retry, or returns ctx.Err() when ctx
// ends first.
func (p RetryPolicy) pause(ctx context.Context, logger *zap.Logger, retry int, cause error) error {
	delay := p.backoff(retry)
	logger.Debug("retrying generation",
		zap.Int("retry", retry),
		zap.Int("maxAttempts", p.MaxAttempts),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

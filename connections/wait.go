package connections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/platform"
)

// StatusTimeout is reported when no terminal status was observed within
// the wait budget. It is a result, not an error.
const StatusTimeout platform.ConnectionStatus = "TIMEOUT"

type WaitOptions struct {
	MaxAttempts int
	Interval    time.Duration
	// Identity, when set, must own the account; otherwise the wait ends
	// with ErrAccountNotFound on the first successful poll.
	Identity string
}

func (o WaitOptions) normalize(defaults WaitOptions) WaitOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaults.MaxAttempts
	}
	if o.Interval <= 0 {
		o.Interval = defaults.Interval
	}
	return o
}

type WaitResult struct {
	Status   platform.ConnectionStatus  `json:"status"`
	Account  *platform.ConnectedAccount `json:"account,omitempty"`
	Attempts int                        `json:"attempts"`
}

// WaitForActive polls the account until it is ACTIVE, FAILED or EXPIRED, or
// until MaxAttempts polls have been made. Polls are sequential and spaced by
// Interval; there is no sleep after the last one. Poll errors are logged and
// polling continues. A status signal for the account cuts the current sleep
// short. ctx cancellation ends the wait with ctx.Err().
func (c *Controller) WaitForActive(ctx context.Context, accountID string, opts WaitOptions) (WaitResult, error) {
	if strings.TrimSpace(accountID) == "" {
		return WaitResult{}, &ValidationError{Field: "connectionId", Message: "connectionId is required"}
	}
	opts = opts.normalize(c.waitDefaults)

	wake, cancel := c.signals.Subscribe(accountID)
	defer cancel()

	var signalled platform.ConnectionStatus
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		acc, err := c.registry.Get(ctx, accountID)
		switch {
		case err == nil && !OwnedBy(acc, opts.Identity):
			return WaitResult{}, fmt.Errorf("wait for connected account %s: %w", accountID, ErrAccountNotFound)
		case err == nil:
			c.logger.Debug("connection poll",
				zap.String("accountId", accountID),
				zap.Int("attempt", attempt),
				zap.String("status", string(acc.Status)),
			)
			if acc.Status == platform.StatusActive {
				return WaitResult{Status: platform.StatusActive, Account: &acc, Attempts: attempt}, nil
			}
			if acc.Status == platform.StatusFailed || acc.Status == platform.StatusExpired {
				return WaitResult{Status: acc.Status, Account: &acc, Attempts: attempt}, nil
			}
		case ctx.Err() != nil:
			return WaitResult{}, ctx.Err()
		case errors.Is(err, ErrValidation):
			return WaitResult{}, err
		default:
			c.logger.Warn("connection poll failed",
				zap.String("accountId", accountID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if signalled == platform.StatusFailed || signalled == platform.StatusExpired {
				return WaitResult{Status: signalled, Attempts: attempt}, nil
			}
		}

		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()
		case status := <-wake:
			signalled = status
			c.logger.Debug("connection status signalled",
				zap.String("accountId", accountID),
				zap.String("status", string(status)),
			)
		case <-c.after(opts.Interval):
		}
	}

	c.logger.Info("connection wait timed out", zap.String("accountId", accountID), zap.Int("attempts", opts.MaxAttempts))
	return WaitResult{Status: StatusTimeout, Attempts: opts.MaxAttempts}, nil
}

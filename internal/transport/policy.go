package transport

import (
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// RetryPolicy bounds how transient failures are retried. The delay before
// attempt n+1 is BaseDelay * 2^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retriable decides whether a failed attempt may be repeated.
	// Defaults to IsRetriable.
	Retriable func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: constants.DefaultRetryMaxAttempts,
		BaseDelay:   constants.DefaultRetryBaseDelay,
		MaxDelay:    constants.DefaultRetryMaxDelay,
		Retriable:   IsRetriable,
	}
}

// SingleAttempt never retries; login and refresh use it.
func SingleAttempt() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// IsRetriable accepts 5xx, 429 and network failures.
func IsRetriable(err error) bool {
	return errors.Is(err, utils.ErrTransient)
}

func (p RetryPolicy) retriable(err error) bool {
	if p.Retriable != nil {
		return p.Retriable(err)
	}
	return IsRetriable(err)
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    p.BaseDelay,
		Max:    p.MaxDelay,
		Factor: 2,
	}
}

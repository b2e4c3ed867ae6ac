package tbdb

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError means TBDB kept answering 429 after in-process backoff.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
}

// QuotaExhaustedError means the daily quota is spent or TBDB is unavailable
// for a long stretch; retrying before ResetTime is pointless.
type QuotaExhaustedError struct {
	Message    string
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("%s (resets at %s)", e.Message, e.ResetTime.Format(time.RFC3339))
}

// AuthenticationError means the stored token was rejected and a human must
// reconnect.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// ConnectionRequiredError means no usable OAuth connection exists.
type ConnectionRequiredError struct {
	Message string
}

func (e *ConnectionRequiredError) Error() string { return e.Message }

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeRateLimited
	OutcomeQuotaExhausted
	OutcomeAuthRequired
	OutcomeConnectionRequired
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeQuotaExhausted:
		return "quota_exhausted"
	case OutcomeAuthRequired:
		return "auth_required"
	case OutcomeConnectionRequired:
		return "connection_required"
	default:
		return "transient"
	}
}

// Outcome is the discriminated form of an error returned by the client.
// RetryAfter and ResetAt are only set for the rate-limit and quota kinds.
type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
	ResetAt    time.Time
	Err        error
}

// RetryAt is when the provider said another attempt may succeed.
func (o Outcome) RetryAt(now time.Time) time.Time {
	if !o.ResetAt.IsZero() && o.ResetAt.After(now) {
		return o.ResetAt
	}
	return now.Add(o.RetryAfter)
}

// Classify folds err into an Outcome. A nil error is OutcomeOK.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}
	var (
		rl   *RateLimitError
		qe   *QuotaExhaustedError
		auth *AuthenticationError
		cr   *ConnectionRequiredError
	)
	switch {
	case errors.As(err, &rl):
		return Outcome{Kind: OutcomeRateLimited, RetryAfter: rl.RetryAfter, ResetAt: rl.ResetTime, Err: err}
	case errors.As(err, &qe):
		return Outcome{Kind: OutcomeQuotaExhausted, RetryAfter: qe.RetryAfter, ResetAt: qe.ResetTime, Err: err}
	case errors.As(err, &auth):
		return Outcome{Kind: OutcomeAuthRequired, Err: err}
	case errors.As(err, &cr):
		return Outcome{Kind: OutcomeConnectionRequired, Err: err}
	default:
		return Outcome{Kind: OutcomeTransient, Err: err}
	}
}

package transfer

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Default retry configuration values, retargeted at the
// transport.Transport interface rather than any concrete file-part type.
const (
	DefMaxRetries    = 5
	DefBaseDelay     = 500 * time.Millisecond
	DefMaxDelay      = 30 * time.Second
	DefJitterFactor  = 0.5
	DefBackoffFactor = 2.0
)

// RetryConfig holds configuration for retry behavior on transient
// transport errors encountered inside ResumableTransfer.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterFactor  float64
	BackoffFactor float64
}

// DefaultRetryConfig returns a RetryConfig with sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    DefMaxRetries,
		BaseDelay:     DefBaseDelay,
		MaxDelay:      DefMaxDelay,
		JitterFactor:  DefJitterFactor,
		BackoffFactor: DefBackoffFactor,
	}
}

// RetryState tracks in-progress retry bookkeeping for one transfer call.
type RetryState struct {
	Attempts     int
	LastError    error
	LastAttempt  time.Time
	TotalDelayed time.Duration
}

// ErrorCategory classifies an error for retry purposes.
type ErrorCategory int

const (
	ErrCategoryFatal ErrorCategory = iota
	ErrCategoryRetryable
	ErrCategoryThrottled
)

// ClassifyError determines how an error should be handled for retry
// purposes.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryFatal
	}
	if errors.Is(err, context.Canceled) {
		return ErrCategoryFatal
	}
	// A deadline exceeded on a Range/HEAD call bounded by transport.Timeouts
	// means the peer stopped responding inside the connect/read window, not
	// that the caller gave up — that's the same transient condition a plain
	// net.Error.Timeout() reports, so it gets the same verdict.
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryRetryable
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrCategoryRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrCategoryRetryable
		}
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && isRetryableErrno(errno) {
		return ErrCategoryRetryable
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"eof",
		"temporary failure",
		"no such host",
		"network is unreachable",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return ErrCategoryRetryable
		}
	}

	throttlePatterns := []string{
		"429",
		"503",
		"too many requests",
		"service unavailable",
		"rate limit",
		"throttl",
	}
	for _, pattern := range throttlePatterns {
		if strings.Contains(errStr, pattern) {
			return ErrCategoryThrottled
		}
	}

	return ErrCategoryFatal
}

// CalculateBackoff computes the delay before the next retry attempt.
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.JitterFactor > 0 {
		jitter := c.JitterFactor * (2*rand.Float64() - 1)
		delay *= 1 + jitter
	}
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if delay < 0 {
		delay = float64(c.BaseDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry determines if another retry attempt should be made.
func (c *RetryConfig) ShouldRetry(state *RetryState, err error) bool {
	category := ClassifyError(err)
	if category == ErrCategoryFatal {
		return false
	}
	if c.MaxRetries > 0 && state.Attempts >= c.MaxRetries {
		return false
	}
	return true
}

// WaitForRetry blocks until the retry delay elapses or ctx is canceled.
func (c *RetryConfig) WaitForRetry(ctx context.Context, state *RetryState, category ErrorCategory) error {
	delay := c.CalculateBackoff(state.Attempts)
	if category == ErrCategoryThrottled {
		delay *= 2
		if delay > c.MaxDelay {
			delay = c.MaxDelay
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		state.TotalDelayed += delay
		return nil
	}
}

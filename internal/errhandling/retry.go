// Package errhandling provides retry configuration and mechanism for upstream calls.
// This file defines retry configuration, delay calculation and the retry executor.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Default retry configuration values
const (
	DefaultMaxAttempts       = 3
	DefaultDelayMs           = 1000
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelayMs        = 30000
	DefaultTimeoutMs         = 30000
	MaxRetryAttempts         = 10
	MinBackoffMultiplier     = 1.0
)

// RetryConfig holds the retry policy of an upstream client.
type RetryConfig struct {
	// MaxAttempts is the maximum number of retries after the first attempt (0 = no retry).
	// Default: 3, Max: 10
	MaxAttempts int

	// DelayMs is the initial delay between retries in milliseconds.
	// Default: 1000
	DelayMs int

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0, Min: 1.0
	BackoffMultiplier float64

	// MaxDelayMs caps the delay between retries in milliseconds.
	// Default: 30000
	MaxDelayMs int

	// RetryableStatusCodes are HTTP status codes that trigger retry.
	// Default: [429, 500, 502, 503, 504]
	RetryableStatusCodes []int

	// UseRetryAfterHeader honours the Retry-After header of 429/503 responses
	// instead of the computed backoff. The delay is still capped by MaxDelayMs.
	UseRetryAfterHeader bool
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:          DefaultMaxAttempts,
		DelayMs:              DefaultDelayMs,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		MaxDelayMs:           DefaultMaxDelayMs,
		RetryableStatusCodes: DefaultRetryableStatusCodes(),
		UseRetryAfterHeader:  true,
	}
}

// NoRetry returns a configuration that performs a single attempt.
func NoRetry() RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = 0
	return config
}

// Validate returns an error if any value is out of valid range.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return errors.New("maxAttempts must be >= 0")
	}
	if c.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("maxAttempts must be <= %d", MaxRetryAttempts)
	}
	if c.DelayMs < 0 {
		return errors.New("delayMs must be >= 0")
	}
	if c.BackoffMultiplier < MinBackoffMultiplier {
		return fmt.Errorf("backoffMultiplier must be >= %v", MinBackoffMultiplier)
	}
	if c.MaxDelayMs < 0 {
		return errors.New("maxDelayMs must be >= 0")
	}
	return nil
}

// CalculateDelay calculates the retry delay for a given attempt using exponential backoff.
// The formula is: min(delayMs * (backoffMultiplier ^ attempt), maxDelayMs)
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delayMs := float64(c.DelayMs) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if delayMs > float64(c.MaxDelayMs) {
		delayMs = float64(c.MaxDelayMs)
	}

	return time.Duration(delayMs) * time.Millisecond
}

// ShouldRetry reports whether a retry should follow the given failed attempt.
func (c RetryConfig) ShouldRetry(attempt int, err error) bool {
	if err == nil || c.MaxAttempts == 0 || attempt >= c.MaxAttempts {
		return false
	}
	if classified := ClassifyError(err); classified.StatusCode > 0 {
		return c.IsStatusCodeRetryable(classified.StatusCode)
	}
	return IsRetryable(err)
}

// IsStatusCodeRetryable checks if the given status code is in the retryable list.
func (c RetryConfig) IsStatusCodeRetryable(statusCode int) bool {
	for _, code := range c.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// RetryAfter parses a Retry-After header value (delay-seconds or HTTP-date).
// It returns false when the header is absent or malformed.
func RetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			delay = 0
		}
		return delay, true
	}
	return 0, false
}

// DelayHint carries a server-provided delay before the next attempt.
// Errors implementing it override the computed backoff when the config
// enables UseRetryAfterHeader.
type DelayHint interface {
	RetryDelay() (time.Duration, bool)
}

// ============================
// Retry Executor
// ============================

// RetryFunc is a function that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryInfo contains information about retry attempts.
type RetryInfo struct {
	// TotalAttempts is the total number of attempts made.
	TotalAttempts int

	// RetryCount is the number of retries (TotalAttempts - 1).
	RetryCount int

	// TotalDuration is the total time spent including retries.
	TotalDuration time.Duration

	// Delays is the list of delays between retries.
	Delays []time.Duration

	// Errors is the list of errors encountered during retries.
	Errors []error
}

// RetryExecutor executes functions with retry logic.
type RetryExecutor struct {
	config RetryConfig

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	retryInfo RetryInfo
}

// NewRetryExecutor creates a new retry executor with the given configuration.
func NewRetryExecutor(config RetryConfig) *RetryExecutor {
	return &RetryExecutor{config: config, sleep: sleepContext}
}

// Execute runs fn, retrying transient failures up to MaxAttempts times.
// Fatal errors are returned immediately. The last error is returned once
// attempts are exhausted.
func (e *RetryExecutor) Execute(ctx context.Context, fn RetryFunc) error {
	startTime := time.Now()
	e.retryInfo = RetryInfo{}

	var lastErr error
	for attempt := 0; attempt <= e.config.MaxAttempts; attempt++ {
		e.retryInfo.TotalAttempts = attempt + 1

		if err := ctx.Err(); err != nil {
			e.finish(startTime)
			return ClassifyNetworkError(err)
		}

		err := fn(ctx)
		if err == nil {
			e.finish(startTime)
			return nil
		}

		lastErr = err
		e.retryInfo.Errors = append(e.retryInfo.Errors, err)

		if !e.config.ShouldRetry(attempt, err) {
			break
		}

		delay := e.delayFor(attempt, err)
		e.retryInfo.Delays = append(e.retryInfo.Delays, delay)
		if e.OnRetry != nil {
			e.OnRetry(attempt, err, delay)
		}

		if err := e.sleep(ctx, delay); err != nil {
			e.finish(startTime)
			return ClassifyNetworkError(err)
		}
	}

	e.finish(startTime)
	return lastErr
}

// GetRetryInfo returns information about the last execution.
func (e *RetryExecutor) GetRetryInfo() RetryInfo {
	return e.retryInfo
}

func (e *RetryExecutor) finish(startTime time.Time) {
	e.retryInfo.RetryCount = e.retryInfo.TotalAttempts - 1
	e.retryInfo.TotalDuration = time.Since(startTime)
}

func (e *RetryExecutor) delayFor(attempt int, err error) time.Duration {
	delay := e.config.CalculateDelay(attempt)
	if !e.config.UseRetryAfterHeader {
		return delay
	}

	var hint DelayHint
	if errors.As(err, &hint) {
		if hinted, ok := hint.RetryDelay(); ok {
			delay = hinted
			if maxDelay := time.Duration(e.config.MaxDelayMs) * time.Millisecond; delay > maxDelay {
				delay = maxDelay
			}
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

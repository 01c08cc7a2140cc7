// Package errhandling provides retry configuration and mechanism for upstream calls.
package errhandling

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// TestRetryConfig_Defaults tests default retry configuration values.
func TestRetryConfig_Defaults(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.DelayMs != 1000 {
		t.Errorf("DelayMs = %d, want 1000", config.DelayMs)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %f, want 2.0", config.BackoffMultiplier)
	}
	if config.MaxDelayMs != 30000 {
		t.Errorf("MaxDelayMs = %d, want 30000", config.MaxDelayMs)
	}
	if len(config.RetryableStatusCodes) != 5 {
		t.Errorf("RetryableStatusCodes length = %d, want 5", len(config.RetryableStatusCodes))
	}
}

// TestRetryConfig_Validate tests retry configuration validation.
func TestRetryConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		wantErr bool
	}{
		{name: "default", config: DefaultRetryConfig()},
		{name: "no retry", config: NoRetry()},
		{name: "negative attempts", config: RetryConfig{MaxAttempts: -1, BackoffMultiplier: 1}, wantErr: true},
		{name: "too many attempts", config: RetryConfig{MaxAttempts: 11, BackoffMultiplier: 1}, wantErr: true},
		{name: "negative delay", config: RetryConfig{DelayMs: -1, BackoffMultiplier: 1}, wantErr: true},
		{name: "low multiplier", config: RetryConfig{BackoffMultiplier: 0.5}, wantErr: true},
		{name: "negative max delay", config: RetryConfig{MaxDelayMs: -1, BackoffMultiplier: 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestRetryConfig_CalculateDelay tests exponential backoff calculation.
func TestRetryConfig_CalculateDelay(t *testing.T) {
	config := RetryConfig{DelayMs: 100, BackoffMultiplier: 2, MaxDelayMs: 500}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := config.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	config := DefaultRetryConfig()
	config.RetryableStatusCodes = []int{503}

	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"nil error", 0, nil, false},
		{"listed status", 0, ClassifyHTTPStatus(503, ""), true},
		{"unlisted retryable status", 0, ClassifyHTTPStatus(502, ""), false},
		{"fatal status", 0, ClassifyHTTPStatus(401, ""), false},
		{"network", 1, NewNetworkError("reset", nil), true},
		{"exhausted", 3, NewNetworkError("reset", nil), false},
		{"unexpected shape", 0, NewUnexpectedError("missing totalSize", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.ShouldRetry(tt.attempt, tt.err); got != tt.want {
				t.Errorf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"empty", "", 0, false},
		{"seconds", "7", 7 * time.Second, true},
		{"negative", "-3", 0, false},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RetryAfter(tt.value, now)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("RetryAfter(%q) = %v, %v, want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

type hintedError struct {
	*ClassifiedError
	delay time.Duration
}

func (e hintedError) RetryDelay() (time.Duration, bool) { return e.delay, true }

func (e hintedError) Unwrap() error { return e.ClassifiedError }

func newTestExecutor(config RetryConfig) (*RetryExecutor, *[]time.Duration) {
	executor := NewRetryExecutor(config)
	var slept []time.Duration
	executor.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return executor, &slept
}

// TestRetryExecutor_Execute tests the retry loop.
func TestRetryExecutor_Execute(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		executor, slept := newTestExecutor(RetryConfig{MaxAttempts: 3, DelayMs: 10, BackoffMultiplier: 2, MaxDelayMs: 100, RetryableStatusCodes: []int{503}})

		calls := 0
		err := executor.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return ClassifyHTTPStatus(503, "")
			}
			return nil
		})

		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		if len(*slept) != 2 || (*slept)[0] != 10*time.Millisecond || (*slept)[1] != 20*time.Millisecond {
			t.Errorf("delays = %v, want [10ms 20ms]", *slept)
		}
		info := executor.GetRetryInfo()
		if info.TotalAttempts != 3 || info.RetryCount != 2 {
			t.Errorf("RetryInfo = %+v, want 3 attempts and 2 retries", info)
		}
	})

	t.Run("fatal error stops immediately", func(t *testing.T) {
		executor, slept := newTestExecutor(DefaultRetryConfig())

		calls := 0
		wantErr := NewAuthenticationError(401, "INVALID_LOGIN", nil)
		err := executor.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return wantErr
		})

		if !errors.Is(err, wantErr) {
			t.Fatalf("Execute() error = %v, want %v", err, wantErr)
		}
		if calls != 1 || len(*slept) != 0 {
			t.Errorf("calls = %d, sleeps = %d, want 1 call and no sleep", calls, len(*slept))
		}
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		executor, _ := newTestExecutor(RetryConfig{MaxAttempts: 2, BackoffMultiplier: 1, RetryableStatusCodes: []int{500}})

		calls := 0
		err := executor.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			return NewNetworkError("connection reset", nil)
		})

		if GetErrorCategory(err) != CategoryNetwork {
			t.Fatalf("Execute() error = %v, want network error", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("retry-after hint is honoured and capped", func(t *testing.T) {
		config := RetryConfig{MaxAttempts: 1, DelayMs: 10, BackoffMultiplier: 1, MaxDelayMs: 2000, RetryableStatusCodes: []int{429}, UseRetryAfterHeader: true}
		executor, slept := newTestExecutor(config)

		calls := 0
		_ = executor.Execute(context.Background(), func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return hintedError{ClassifiedError: ClassifyHTTPStatus(429, ""), delay: 5 * time.Second}
			}
			return nil
		})

		if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
			t.Errorf("delays = %v, want [2s]", *slept)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		executor, _ := newTestExecutor(DefaultRetryConfig())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := executor.Execute(ctx, func(ctx context.Context) error {
			t.Fatal("fn must not be called with a canceled context")
			return nil
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Execute() error = %v, want context.Canceled", err)
		}
	})

	t.Run("OnRetry callback", func(t *testing.T) {
		executor, _ := newTestExecutor(RetryConfig{MaxAttempts: 1, BackoffMultiplier: 1, RetryableStatusCodes: []int{500}})
		var attempts []int
		executor.OnRetry = func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		}

		_ = executor.Execute(context.Background(), func(ctx context.Context) error {
			return ClassifyHTTPStatus(500, "")
		})

		if len(attempts) != 1 || attempts[0] != 0 {
			t.Errorf("OnRetry attempts = %v, want [0]", attempts)
		}
	})
}

package genai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/recallhq/recall/internal/log"
)

func TestDefaultRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultRetryConfig()

	if cfg.MaxRetries <= 0 {
		t.Errorf("MaxRetries should be positive, got %d", cfg.MaxRetries)
	}
	if cfg.InitialInterval <= 0 {
		t.Errorf("InitialInterval should be positive, got %v", cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		t.Error("MaxInterval should be >= InitialInterval")
	}
}

func TestRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "rate limit error",
			err:  errors.New("rate limit exceeded"),
			want: true,
		},
		{
			name: "quota exceeded error",
			err:  errors.New("quota exceeded for project"),
			want: true,
		},
		{
			name: "429 status code",
			err:  errors.New("HTTP 429: Too Many Requests"),
			want: true,
		},
		{
			name: "503 unavailable",
			err:  errors.New("503 Service Unavailable"),
			want: true,
		},
		{
			name: "connection reset",
			err:  errors.New("connection reset by peer"),
			want: true,
		},
		{
			name: "timeout error",
			err:  errors.New("request timeout"),
			want: true,
		},
		{
			name: "invalid API key",
			err:  errors.New("invalid API key"),
			want: false,
		},
		{
			name: "400 bad request",
			err:  errors.New("HTTP 400 Bad Request"),
			want: false,
		},
		{
			name: "case insensitive match",
			err:  errors.New("RATE LIMIT reached"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := retryableError(tt.err)
			if got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestContainsAny(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		s       string
		substrs []string
		want    bool
	}{
		{
			name:    "empty string",
			s:       "",
			substrs: []string{"foo"},
			want:    false,
		},
		{
			name:    "empty substrs",
			s:       "foo bar",
			substrs: []string{},
			want:    false,
		},
		{
			name:    "contains substr",
			s:       "foo bar baz",
			substrs: []string{"qux", "baz"},
			want:    true,
		},
		{
			name:    "case insensitive match",
			s:       "FOO BAR BAZ",
			substrs: []string{"foo"},
			want:    true,
		},
		{
			name:    "no match",
			s:       "foo bar baz",
			substrs: []string{"qux", "quux"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := containsAny(tt.s, tt.substrs...)
			if got != tt.want {
				t.Errorf("containsAny(%q, %v) = %v, want %v", tt.s, tt.substrs, got, tt.want)
			}
		})
	}
}

// retryTestClient builds a Client with fast backoff for exercising withRetry
// without a live Genkit instance.
func retryTestClient() *Client {
	return &Client{
		limiter: rate.NewLimiter(rate.Inf, 1),
		retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
		logger: log.NewNop(),
	}
}

func TestWithRetrySucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	c := retryTestClient()
	calls := 0

	err := c.withRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("call count = %d, want 1", calls)
	}
}

func TestWithRetryRecoversFromTransientError(t *testing.T) {
	t.Parallel()

	c := retryTestClient()
	calls := 0

	err := c.withRetry(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("call count = %d, want 3", calls)
	}
}

func TestWithRetryFailsFastOnPermanentError(t *testing.T) {
	t.Parallel()

	c := retryTestClient()
	calls := 0
	permanent := errors.New("invalid API key")

	err := c.withRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("withRetry() error = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("call count = %d, want 1 (no retry on permanent errors)", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	t.Parallel()

	c := retryTestClient()
	calls := 0
	transient := errors.New("request timeout")

	err := c.withRetry(context.Background(), "flaky", func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("withRetry() error = %v, want wrapped %v", err, transient)
	}
	if !strings.Contains(err.Error(), "flaky") {
		t.Errorf("error %q should mention the call label", err)
	}
	if want := c.retry.MaxRetries + 1; calls != want {
		t.Errorf("call count = %d, want %d", calls, want)
	}
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	c := retryTestClient()
	c.retry.InitialInterval = time.Minute // force the backoff to block

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	done := make(chan error, 1)
	go func() {
		done <- c.withRetry(ctx, "test", func(context.Context) error {
			calls++
			return errors.New("503 Service Unavailable")
		})
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("withRetry() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("withRetry did not return after context cancellation")
	}
}

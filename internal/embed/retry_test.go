package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// mockProvider returns queued errors first, then queued vectors.
type mockProvider struct {
	name    string
	errors  []error
	vectors [][]float32
	calls   int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = m.vectors[i%len(m.vectors)]
	}
	return out, nil
}

func fastRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Timeout:    time.Second,
	}
}

func TestRetryProvider_SucceedsFirstTry(t *testing.T) {
	inner := &mockProvider{name: "test", vectors: [][]float32{{1, 2}}}
	retry := NewRetryProvider(inner, fastRetryConfig())

	vecs, err := retry.Embed(context.Background(), []string{"hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector, got %d", len(vecs))
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestRetryProvider_RetriesOnTransientError(t *testing.T) {
	inner := &mockProvider{
		name: "test",
		errors: []error{
			fmt.Errorf("%w: 500 Internal Server Error", ErrUnavailable),
			fmt.Errorf("%w: 429 Too Many Requests", ErrUnavailable),
		},
		vectors: [][]float32{{1}},
	}
	retry := NewRetryProvider(inner, fastRetryConfig())

	_, err := retry.Embed(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", inner.calls)
	}
}

func TestRetryProvider_StopsOnNonRetryableError(t *testing.T) {
	inner := &mockProvider{
		name:   "test",
		errors: []error{fmt.Errorf("%w: 401 Unauthorized", ErrUnavailable)},
	}
	retry := NewRetryProvider(inner, fastRetryConfig())

	_, err := retry.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call for auth failure, got %d", inner.calls)
	}
}

func TestRetryProvider_ExhaustsRetries(t *testing.T) {
	transient := fmt.Errorf("%w: 503 Service Unavailable", ErrUnavailable)
	inner := &mockProvider{
		name:   "test",
		errors: []error{transient, transient, transient, transient, transient},
	}
	retry := NewRetryProvider(inner, &RetryConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		MaxDelay:   10 * time.Millisecond,
		Timeout:    time.Second,
	})

	_, err := retry.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("final error should wrap ErrUnavailable, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", inner.calls)
	}
}

func TestRetryProvider_IsRetryable(t *testing.T) {
	retry := NewRetryProvider(&mockProvider{name: "t"}, nil)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"server error", errors.New("500 Internal Server Error"), true},
		{"bad gateway", errors.New("502 Bad Gateway"), true},
		{"unauthorized", errors.New("401 Unauthorized"), false},
		{"not found", errors.New("404 Not Found"), false},
		{"dimension mismatch", fmt.Errorf("%w: embedding 0 has dimension 10, want 4", ErrUnavailable), false},
		{"generic unavailable", fmt.Errorf("%w: connection reset", ErrUnavailable), true},
		{"unrelated error", errors.New("something else"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := retry.isRetryable(tc.err); got != tc.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestRetryProvider_CalculateBackoff(t *testing.T) {
	retry := NewRetryProvider(&mockProvider{name: "t"}, &RetryConfig{
		RetryDelay: time.Second,
		MaxDelay:   5 * time.Second,
	})

	if got := retry.calculateBackoff(1); got != time.Second {
		t.Errorf("attempt 1 backoff = %v, want 1s", got)
	}
	if got := retry.calculateBackoff(2); got != 2*time.Second {
		t.Errorf("attempt 2 backoff = %v, want 2s", got)
	}
	if got := retry.calculateBackoff(3); got != 4*time.Second {
		t.Errorf("attempt 3 backoff = %v, want 4s", got)
	}
	if got := retry.calculateBackoff(10); got != 5*time.Second {
		t.Errorf("attempt 10 backoff = %v, want capped 5s", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     string
	}{
		{"short text untouched", "hello", 10, "hello"},
		{"exact length untouched", "hello", 5, "hello"},
		{"truncates long text", "hello world", 5, "hello"},
		{"zero max means unlimited", "hello", 0, "hello"},
		{"counts characters not bytes", "héllo", 2, "hé"},
		{"multibyte exact fit", "héllo", 5, "héllo"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Truncate(tc.text, tc.maxChars); got != tc.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tc.text, tc.maxChars, got, tc.want)
			}
		})
	}
}

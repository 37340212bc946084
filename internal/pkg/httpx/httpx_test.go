package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type codedErr int

func (e codedErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e codedErr) HTTPStatusCode() int { return int(e) }

func TestIsRetryableHTTPStatus(t *testing.T) {
	retryable := []int{429, 500, 502, 503, 599}
	for _, code := range retryable {
		if !IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	terminal := []int{200, 201, 400, 401, 403, 404, 422}
	for _, code := range terminal {
		if IsRetryableHTTPStatus(code) {
			t.Errorf("expected %d to be terminal", code)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil error must not be retryable")
	}
	if !IsRetryableError(codedErr(429)) {
		t.Error("429 must be retryable")
	}
	if !IsRetryableError(fmt.Errorf("wrapped: %w", codedErr(503))) {
		t.Error("wrapped 503 must be retryable")
	}
	if IsRetryableError(codedErr(400)) {
		t.Error("400 must be terminal")
	}
	if IsRetryableError(errors.New("plain")) {
		t.Error("plain errors must be terminal")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")

	got := RetryAfterDuration(resp, time.Second, 10*time.Second)
	if got != 3*time.Second {
		t.Fatalf("expected 3s, got %v", got)
	}

	got = RetryAfterDuration(resp, time.Second, 2*time.Second)
	if got != 2*time.Second {
		t.Fatalf("expected clamp to 2s, got %v", got)
	}

	got = RetryAfterDuration(nil, time.Second, 10*time.Second)
	if got != time.Second {
		t.Fatalf("expected fallback 1s, got %v", got)
	}
}

func TestJitterBounds(t *testing.T) {
	base := time.Second
	for i := 0; i < 200; i++ {
		got := Jitter(base)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("jittered %v outside +/-20%% of %v", got, base)
		}
	}
	if Jitter(0) != 0 {
		t.Fatal("zero base must jitter to zero")
	}
}

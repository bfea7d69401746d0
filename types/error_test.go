package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrUpstreamError, "upstream failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithProvider("llama")

	if GetErrorCode(err) != ErrUpstreamError {
		t.Fatalf("expected code %s, got %s", ErrUpstreamError, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestIsErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	base := NewError(ErrResourceExhausted, "out of memory")
	wrapped := fmt.Errorf("generate: %w", base)

	if !IsErrorCode(wrapped, ErrResourceExhausted) {
		t.Fatalf("expected wrapped error to carry %s", ErrResourceExhausted)
	}
	if IsErrorCode(wrapped, ErrUpstreamError) {
		t.Fatalf("unexpected code match")
	}
	if IsErrorCode(errors.New("plain"), ErrResourceExhausted) {
		t.Fatalf("plain error must not match")
	}
}

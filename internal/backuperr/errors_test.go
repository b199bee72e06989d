package backuperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOfWrappedError(t *testing.T) {
	base := Execution("run", 3, "% Unrecognized command", errors.New("error marker found"))
	wrapped := fmt.Errorf("job failed: %w", base)

	if KindOf(wrapped) != KindExecution {
		t.Fatalf("expected execution kind, got %s", KindOf(wrapped))
	}
	if StepOf(wrapped) != 3 {
		t.Fatalf("expected step 3, got %d", StepOf(wrapped))
	}
	if !strings.Contains(wrapped.Error(), "step 3") {
		t.Fatalf("expected message to mention step, got %q", wrapped.Error())
	}
}

func TestKindOfPlainError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error")
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil")
	}
}

func TestExecutionOutputTruncated(t *testing.T) {
	err := Execution("run", 1, strings.Repeat("x", maxOutput*2), nil)
	if len(err.Output) != maxOutput {
		t.Fatalf("expected output truncated to %d, got %d", maxOutput, len(err.Output))
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(Authentication("auth", errors.New("denied"))) {
		t.Fatalf("authentication failures must not be retryable")
	}
	if IsRetryable(Configuration("cfg", "ssh disabled")) {
		t.Fatalf("configuration failures must not be retryable")
	}
	if !IsRetryable(Connectivity("dial", errors.New("timeout"))) {
		t.Fatalf("connectivity failures should be retryable")
	}
}

func TestMessageOmitsOperationAndOutput(t *testing.T) {
	err := Execution("executor.step", 2, "secret output", errors.New("error marker found"))
	msg := Message(fmt.Errorf("wrapped: %w", err))
	if msg != "execution error at step 2: error marker found" {
		t.Fatalf("unexpected message %q", msg)
	}
	if Message(nil) != "" {
		t.Fatalf("expected empty message for nil")
	}
	if Message(errors.New("plain")) != "plain" {
		t.Fatalf("expected plain error text")
	}
}

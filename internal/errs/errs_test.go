package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKinds(t *testing.T) {
	if !errors.Is(Validation("bad %s", "input"), ErrValidation) {
		t.Fatalf("expected validation kind")
	}
	if !errors.Is(NotFound("account %s", "a"), ErrNotFound) {
		t.Fatalf("expected not found kind")
	}
	if !errors.Is(Config("spread"), ErrConfig) {
		t.Fatalf("expected config kind")
	}
	if got := NotFound("account %s", "acc_1").Error(); got != "account acc_1" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	err := Upstream(context.DeadlineExceeded)
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream kind")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped cause")
	}
	if Upstream(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	wrapped := fmt.Errorf("tick: %w", Validation("size"))
	if KindOf(Upstream(wrapped)) != ErrValidation {
		t.Fatalf("expected existing kind to be preserved")
	}
}

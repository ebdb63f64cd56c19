package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindAndCodeThroughWrapping(t *testing.T) {
	base := Validation(CodeScheduleRequired, "schedule dates missing: %s", "session")
	wrapped := fmt.Errorf("publish: %w", base)

	if KindOf(wrapped) != KindValidation {
		t.Fatalf("expected validation kind, got %q", KindOf(wrapped))
	}
	if !Is(wrapped, CodeScheduleRequired) {
		t.Fatalf("expected schedule_required code")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no kind")
	}
}

func TestExternalUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := External(CodeRegistryTransient, "registry unavailable", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if err.Error() != "registry unavailable: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

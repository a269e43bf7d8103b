package logging

import (
	"errors"
	"strings"
	"testing"
)

func TestOperationErrorFormatsSubject(t *testing.T) {
	base := errors.New("matcher unavailable")
	err := NewSubjectError("verification.find", "run-1", "incoming/7/a.jpg", base)

	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	msg := err.Error()
	for _, want := range []string{"verification.find", "run_id=run-1", "incoming/7/a.jpg", "matcher unavailable"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

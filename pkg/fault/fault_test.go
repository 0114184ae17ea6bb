package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKinds(t *testing.T) {
	base := errors.New("connection reset")
	tests := []struct {
		name      string
		err       error
		retriable bool
		fatal     bool
		deferred  bool
	}{
		{"retriable", Retriable(base), true, false, false},
		{"fatal", Fatal(base), false, true, false},
		{"deferred", Deferred(base), false, false, true},
		{"wrapped retriable", fmt.Errorf("download: %w", Retriable(base)), true, false, false},
		{"plain", base, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetriable(tt.err); got != tt.retriable {
				t.Errorf("IsRetriable = %v, want %v", got, tt.retriable)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", got, tt.fatal)
			}
			if got := IsDeferred(tt.err); got != tt.deferred {
				t.Errorf("IsDeferred = %v, want %v", got, tt.deferred)
			}
			if !errors.Is(tt.err, base) {
				t.Error("expected cause to unwrap")
			}
		})
	}
}

func TestSentinelWrappers(t *testing.T) {
	if !errors.Is(UnknownGroup("x"), ErrUnknownGroup) {
		t.Error("UnknownGroup should wrap ErrUnknownGroup")
	}
	if !errors.Is(Misconfigured("bad %s", "template"), ErrMisconfiguration) {
		t.Error("Misconfigured should wrap ErrMisconfiguration")
	}
	if !errors.Is(InUse("product %d", 1), ErrFileInUse) {
		t.Error("InUse should wrap ErrFileInUse")
	}
	err := InvalidTransition("source", "IGNORE", "DOWNLOADING")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("InvalidTransition should wrap ErrInvalidTransition")
	}
	if got := err.Error(); got != "invalid state transition: source IGNORE -> DOWNLOADING" {
		t.Errorf("unexpected message %q", got)
	}
}

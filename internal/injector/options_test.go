package injector

import (
	"testing"
)

func TestDefaultOptionsValid(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	opts := Options{}
	err := opts.Validate()
	if err == nil {
		t.Fatalf("expected empty options to be rejected")
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("expected a joined error, got %T", err)
	}
	if n := len(joined.Unwrap()); n != 3 {
		t.Fatalf("expected 3 problems for zero options, got %d: %v", n, err)
	}
}

func TestValidateTimeoutShorterThanPoll(t *testing.T) {
	opts := DefaultOptions()
	opts.WaitTimeout = opts.PollInterval / 2
	if err := opts.Validate(); err == nil {
		t.Fatalf("expected wait timeout below poll interval to be rejected")
	}
}

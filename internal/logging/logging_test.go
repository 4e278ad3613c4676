package logging

import "testing"

func TestNew(t *testing.T) {
	logger, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger instance")
	}
	_ = logger.Sync()
}

func TestNewCLI(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := NewCLI(verbose)
		if err != nil {
			t.Fatalf("unexpected error (verbose=%v): %v", verbose, err)
		}
		if logger == nil {
			t.Fatalf("expected logger instance (verbose=%v)", verbose)
		}
		if verbose != logger.Core().Enabled(-1) {
			t.Fatalf("expected debug enabled=%v for verbose=%v", verbose, verbose)
		}
		_ = logger.Sync()
	}
}

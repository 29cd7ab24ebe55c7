package uwerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrCapacity, "store", "put", "artifact too large", cause)
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := Wrap(ErrNotFound, "store", "get", "unknown source", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWrapNilMarkerDefaults(t *testing.T) {
	err := Wrap(nil, "encoder", "probe", "", errors.New("exit status 1"))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool fallback, got %v", err)
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(Wrap(ErrConfiguration, "config", "load", "bad geometry", nil)) {
		t.Fatal("configuration errors are fatal")
	}
	if !IsFatal(fmt.Errorf("outer: %w", ErrStorageIntegrity)) {
		t.Fatal("storage integrity errors are fatal")
	}
	if IsFatal(Wrap(ErrDecode, "pipeline", "load", "corrupt gif", nil)) {
		t.Fatal("decode errors are not fatal")
	}
	if IsFatal(nil) {
		t.Fatal("nil is not fatal")
	}
}

func TestReasonStripsMarker(t *testing.T) {
	err := Wrap(ErrDecode, "pipeline", "load", "corrupt gif", nil)
	want := "pipeline: load: corrupt gif"
	if got := Reason(err); got != want {
		t.Fatalf("Reason = %q, want %q", got, want)
	}
	if got := Reason(nil); got != "" {
		t.Fatalf("Reason(nil) = %q", got)
	}
	plain := errors.New("some other failure")
	if got := Reason(plain); got != plain.Error() {
		t.Fatalf("Reason(plain) = %q", got)
	}
}

package uwerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classify failures across the conversion and streaming
// subsystems. Wrap tags an error with one of these so callers can route on
// errors.Is without parsing messages.
var (
	ErrDecode           = errors.New("decode error")
	ErrConfiguration    = errors.New("configuration error")
	ErrCapacity         = errors.New("capacity error")
	ErrNotFound         = errors.New("not found")
	ErrLockContention   = errors.New("lock contention")
	ErrStreamIO         = errors.New("stream i/o error")
	ErrExternalTool     = errors.New("external tool error")
	ErrNotReady         = errors.New("artifact not ready")
	ErrStorageIntegrity = errors.New("storage integrity error")
)

// Wrap builds an error carrying component context while tagging it with the
// provided marker for later classification.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether an error must terminate the whole process.
// Only configuration and storage-integrity failures qualify; everything else
// is isolated to the geometry, job, or session that produced it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStorageIntegrity)
}

// Reason strips the sentinel prefix so UIs can show a compact failure string.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrDecode, ErrConfiguration, ErrCapacity, ErrNotFound, ErrLockContention, ErrStreamIO, ErrExternalTool, ErrNotReady, ErrStorageIntegrity} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}

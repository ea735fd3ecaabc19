package fault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCaptureDenied means screen capture was refused or the display device is unavailable.
	ErrCaptureDenied = errors.New("capture denied")
	// ErrMicUnavailable means the microphone could not be opened; recording continues without it.
	ErrMicUnavailable = errors.New("microphone unavailable")
	// ErrTrimFailed means the precise engine failed to load or to execute.
	ErrTrimFailed = errors.New("trim failed")
	// ErrCapabilityUnsupported means the precise engine's prerequisites are absent.
	ErrCapabilityUnsupported = errors.New("capability unsupported")
	// ErrRecordNotFound means the catalog entry or its vault blob is missing.
	ErrRecordNotFound = errors.New("record not found")
	// ErrPersistenceWriteFailed means a vault or catalog write was rejected.
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	// ErrInvalidTransition means an operation was requested from a phase that does not allow it.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Wrap builds an error message that includes component context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrPersistenceWriteFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Recoverable reports whether err degrades functionality locally instead of
// ending the current operation. Capture denial and rejected writes are the only
// failures handed back to the user as-is.
func Recoverable(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrCaptureDenied), errors.Is(err, ErrPersistenceWriteFailed), errors.Is(err, ErrInvalidTransition):
		return false
	case errors.Is(err, ErrMicUnavailable), errors.Is(err, ErrTrimFailed),
		errors.Is(err, ErrCapabilityUnsupported), errors.Is(err, ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// Kind returns a short label for the first marker err carries, for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCaptureDenied):
		return "capture_denied"
	case errors.Is(err, ErrMicUnavailable):
		return "mic_unavailable"
	case errors.Is(err, ErrTrimFailed):
		return "trim_failed"
	case errors.Is(err, ErrCapabilityUnsupported):
		return "capability_unsupported"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrPersistenceWriteFailed):
		return "persistence_write_failed"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "unknown"
	}
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
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}

package joberr

import (
	"errors"
	"fmt"
)

// Kind classifies a job error. The pipeline state machine branches on the
// kind only, never on message text.
type Kind string

const (
	KindConfigInvalid       Kind = "CONFIG_INVALID"
	KindDumpFailed          Kind = "DUMP_FAILED"
	KindDumpTimeout         Kind = "DUMP_TIMEOUT"
	KindRestoreFailed       Kind = "RESTORE_FAILED"
	KindRestoreTimeout      Kind = "RESTORE_TIMEOUT"
	KindArchiveCorrupt      Kind = "ARCHIVE_CORRUPT"
	KindArchiveUnsupported  Kind = "ARCHIVE_UNSUPPORTED"
	KindUploadFailed        Kind = "UPLOAD_FAILED"
	KindDownloadFailed      Kind = "DOWNLOAD_FAILED"
	KindVerificationFailed  Kind = "VERIFICATION_FAILED"
	KindNotImplemented      Kind = "NOT_IMPLEMENTED"
	KindCallbackUnreachable Kind = "CALLBACK_UNREACHABLE"
	KindCanceled            Kind = "CANCELED"
)

// Error is the typed error used across all pipeline stages. It carries the
// classification, a human-readable message, the wrapped cause, and a context
// map with enough detail (external command, stderr, object key, attempted
// strategies) to reconstruct the root cause from logs alone.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so callers can
// use errors.Is with sentinel values built by New.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates a new typed job error.
func New(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext attaches a context key/value to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common constructors.

func ConfigInvalid(message string, cause error) *Error {
	return New(KindConfigInvalid, message, cause)
}

func DumpFailed(message string, cause error) *Error {
	return New(KindDumpFailed, message, cause)
}

func DumpTimeout(message string, cause error) *Error {
	return New(KindDumpTimeout, message, cause)
}

func RestoreFailed(message string, cause error) *Error {
	return New(KindRestoreFailed, message, cause)
}

func RestoreTimeout(message string, cause error) *Error {
	return New(KindRestoreTimeout, message, cause)
}

func ArchiveCorrupt(message string, cause error) *Error {
	return New(KindArchiveCorrupt, message, cause)
}

func ArchiveUnsupported(message string, cause error) *Error {
	return New(KindArchiveUnsupported, message, cause)
}

func UploadFailed(message string, cause error) *Error {
	return New(KindUploadFailed, message, cause)
}

func DownloadFailed(message string, cause error) *Error {
	return New(KindDownloadFailed, message, cause)
}

func VerificationFailed(message string, cause error) *Error {
	return New(KindVerificationFailed, message, cause)
}

func NotImplemented(message string) *Error {
	return New(KindNotImplemented, message, nil)
}

func CallbackUnreachable(message string, cause error) *Error {
	return New(KindCallbackUnreachable, message, cause)
}

func Canceled(message string, cause error) *Error {
	return New(KindCanceled, message, cause)
}

// KindOf extracts the kind from err, unwrapping as needed. Errors outside
// the taxonomy report an empty kind.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return ""
}

// IsRetryable reports whether an operation that produced err may be retried.
// Only transient network/storage failures qualify; everything else is
// permanent from the job's point of view.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindUploadFailed, KindDownloadFailed, KindCallbackUnreachable:
		return true
	default:
		return false
	}
}

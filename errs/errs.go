// Package errs implements the engine's error taxonomy: a single typed error
// carrying a kind, an optional CDC subcode, and a retryability flag, used in
// place of ad hoc errors.New across every component.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and exit-code purposes.
type Kind string

const (
	KindStorage         Kind = "storage"
	KindFileNotFound    Kind = "file-not-found"
	KindVersionMismatch Kind = "version-mismatch"
	KindConcurrency     Kind = "concurrency"
	KindCDC             Kind = "cdc"
	KindValidation      Kind = "validation"
	KindS3              Kind = "s3"
	// KindConflict is a commit conflict that §4.5 classifies as fatal
	// (overlapping removes, metadata/protocol changes): unlike KindConcurrency,
	// it is never blanket-retried by IsRetryable.
	KindConflict Kind = "conflict"
)

// CDCSubcode further classifies KindCDC errors.
type CDCSubcode string

const (
	CDCInvalidVersionRange CDCSubcode = "invalid-version-range"
	CDCInvalidTimeRange    CDCSubcode = "invalid-time-range"
	CDCTableNotFound       CDCSubcode = "table-not-found"
	CDCNotEnabled          CDCSubcode = "cdc-not-enabled"
	CDCStorageError        CDCSubcode = "storage-error"
	CDCParseError          CDCSubcode = "parse-error"
	CDCEmptyWrite          CDCSubcode = "empty-write"
)

// Error is the engine's single user-visible error type.
type Error struct {
	Kind      Kind
	Message   string
	Cause     error
	Retryable bool

	// CDC subcode, set only when Kind == KindCDC.
	Subcode CDCSubcode

	// Concurrency detail, set only when Kind == KindConcurrency, KindVersionMismatch or KindConflict.
	ExpectedVersion string
	ActualVersion   string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Subcode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Subcode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.KindConcurrency) style matching by wrapping a
// Kind as a sentinel.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == Kind(k)
	}
	return false
}

type kindSentinel Kind

func (k kindSentinel) Error() string { return string(k) }

// KindSentinel returns a sentinel error usable with errors.Is to test an
// Error's Kind, e.g. errors.Is(err, errs.KindSentinel(errs.KindConcurrency)).
func KindSentinel(k Kind) error { return kindSentinel(k) }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Retryable: kind == KindConcurrency}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause, Retryable: kind == KindConcurrency}
}

// Retryable marks an otherwise non-retryable kind (e.g. storage) as
// retryable, for transient failures such as network timeouts.
func Retryable(e *Error) *Error {
	e.Retryable = true
	return e
}

func Concurrency(expected, actual string) *Error {
	return &Error{
		Kind:            KindConcurrency,
		Message:         fmt.Sprintf("commit conflict: expected version %s, found %s", expected, actual),
		Retryable:       true,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Conflict builds a fatal commit conflict (§4.5): overlapping removes or a
// concurrent metadata/protocol change. Unlike Concurrency, it never retries.
func Conflict(expected, actual string) *Error {
	return &Error{
		Kind:            KindConflict,
		Message:         fmt.Sprintf("commit conflict: expected version %s, found %s", expected, actual),
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

func VersionMismatch(expected, actual string) *Error {
	return &Error{
		Kind:            KindVersionMismatch,
		Message:         fmt.Sprintf("version mismatch: expected %s, found %s", expected, actual),
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

func CDC(sub CDCSubcode, msg string) *Error {
	return &Error{Kind: KindCDC, Subcode: sub, Message: msg}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is a KindFileNotFound error.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindFileNotFound
	}
	return false
}

// IsRetryable reports whether err should be retried by the retry wrapper:
// either explicitly marked retryable, or of kind concurrency (§4.10).
// KindConflict is deliberately excluded: it is how §4.5's two fatal
// conflict classes (overlapping removes, metadata/protocol changes) opt out
// of the blanket concurrency retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable || e.Kind == KindConcurrency
	}
	return false
}

// ExitCode maps an error to the CLI exit code taxonomy of §6.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindConcurrency, KindConflict:
			return 1
		case KindValidation:
			return 2
		case KindStorage, KindS3, KindFileNotFound, KindVersionMismatch, KindCDC:
			return 3
		}
	}
	return 3
}

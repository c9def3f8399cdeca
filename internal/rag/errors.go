package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"unicode/utf8"
)

// Kind classifies a failure so callers can decide how to react to it
// without parsing messages.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindUser marks bad input (missing path, empty question). 400-equivalent.
	KindUser
	// KindNotFound marks a missing resource such as an unbuilt index.
	KindNotFound
	// KindProvider marks malformed data from an embedder or generator. 502-equivalent.
	KindProvider
	// KindTransient marks a timeout or rate limit; the caller may retry.
	KindTransient
	// KindFatal marks index corruption or a dimension mismatch. The index
	// must not be used until repaired.
	KindFatal
)

// String returns the taxonomy name of k.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user_error"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider_error"
	case KindTransient:
		return "transient_error"
	case KindFatal:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Sentinels matching each Kind, usable with errors.Is.
var (
	ErrUser      = errors.New("user error")
	ErrNotFound  = errors.New("not found")
	ErrProvider  = errors.New("provider error")
	ErrTransient = errors.New("transient error")
	ErrFatal     = errors.New("fatal error")
)

// ErrDimensionMismatch is wrapped in a KindFatal error when a vector does not
// match the dimension already held by the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Error is a classified failure raised by the retrieval core.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind
	// Op names the operation that failed (e.g. "engine: ingest").
	Op string
	// Err is the underlying cause.
	Err error
}

// E constructs a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf constructs a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUser:
		return e.Kind == KindUser
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrProvider:
		return e.Kind == KindProvider
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrFatal:
		return e.Kind == KindFatal
	}
	return false
}

// KindOf returns the classification of the outermost *Error in err's chain,
// or KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Classify tags an error returned by an external Embedder or Generator.
// Already classified errors are returned unchanged, deadlines and network
// timeouts become KindTransient, and everything else is KindProvider.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return E(KindTransient, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return E(KindTransient, op, err)
	}
	return E(KindProvider, op, err)
}

// Truncate shortens s to at most n bytes for logging provider payloads,
// backing up so a multi-byte rune is never split.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	n = max(n, 0)
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}

// Stage names an ingest pipeline step.
type Stage string

const (
	StageLoad    Stage = "load"
	StageChunk   Stage = "chunk"
	StageEmbed   Stage = "embed"
	StageIndex   Stage = "index"
	StagePersist Stage = "persist"
)

// IngestError reports which ingest stage failed and how many items made it
// through before the failure.
type IngestError struct {
	// Stage is the step that failed.
	Stage Stage
	// Succeeded counts the items completed before the failure: documents for
	// the load stage, chunks for every later stage.
	Succeeded int
	// Err is the classified cause.
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest failed at %s stage after %d items: %v", e.Stage, e.Succeeded, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// QueryError reports a query that retrieved passages but could not produce
// an answer. The partial AnswerResult is returned alongside it.
type QueryError struct {
	// Passages is the number of passages retrieved before the failure.
	Passages int
	// Err is the classified cause.
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed after retrieving %d passages: %v", e.Passages, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

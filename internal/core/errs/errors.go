// Package errs defines the structured error taxonomy shared by every extraction component.
//
// A ProcessingError is logged at most once, normally when it is built. Errors
// from Unlogged are logged only if their owner calls Log. Later annotations
// (retry counts, recovery attempts) mutate its context but never log again.
package errs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var pkgLogger atomic.Pointer[slog.Logger]

// SetLogger replaces the logger used when errors are constructed.
func SetLogger(l *slog.Logger) {
	pkgLogger.Store(l)
}

func logger() *slog.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// ProcessingError is the single concrete error type of the taxonomy. Kind tells
// callers which family (extraction, validation, network, engine) it belongs to.
type ProcessingError struct {
	Kind               Kind
	Message            string
	Code               ErrorCode
	Context            *ErrorContext
	Cause              error
	Recoverable        bool
	RecoverySuggestion string

	logged bool
}

// Option customises a ProcessingError at construction time.
type Option func(*ProcessingError)

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *ProcessingError) { e.Cause = err }
}

// WithContext replaces the error context.
func WithContext(c *ErrorContext) Option {
	return func(e *ProcessingError) {
		if c != nil {
			e.Context = c
		}
	}
}

// WithFields merges kv into the error context.
func WithFields(kv map[string]any) Option {
	return func(e *ProcessingError) { e.Context.Update(kv) }
}

// Recoverable overrides the code's default recoverability.
func Recoverable(r bool) Option {
	return func(e *ProcessingError) { e.Recoverable = r }
}

// WithSuggestion attaches a human hint.
func WithSuggestion(s string) Option {
	return func(e *ProcessingError) { e.RecoverySuggestion = s }
}

// New builds a ProcessingError of the code's kind and logs it.
func New(message string, code ErrorCode, opts ...Option) *ProcessingError {
	if !code.Valid() {
		code = CodeUnknown
	}
	return build(code.Kind(), message, code, opts)
}

func build(kind Kind, message string, code ErrorCode, opts []Option) *ProcessingError {
	e := assemble(kind, message, code, opts)
	e.log()
	return e
}

func assemble(kind Kind, message string, code ErrorCode, opts []Option) *ProcessingError {
	e := &ProcessingError{
		Kind:        kind,
		Message:     message,
		Code:        code,
		Context:     NewContext("", ""),
		Recoverable: defaultRecoverable(code),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewExtractionError builds an extraction-family error.
func NewExtractionError(message string, code ErrorCode, opts ...Option) *ProcessingError {
	if code.Kind() != KindExtraction && code.Kind() != KindEngine {
		code = CodeExtractionFailed
	}
	return build(KindExtraction, message, code, opts)
}

// NewValidationError builds a validation-family error.
func NewValidationError(message string, code ErrorCode, opts ...Option) *ProcessingError {
	return build(KindValidation, message, validationCode(code), opts)
}

// Unlogged builds a validation-family error without logging it. Callers that
// let it escape call Log; callers that drop it report it their own way.
func Unlogged(message string, code ErrorCode, opts ...Option) *ProcessingError {
	return assemble(KindValidation, message, validationCode(code), opts)
}

func validationCode(code ErrorCode) ErrorCode {
	if code.Kind() != KindValidation && code != CodeInvalidInput {
		return CodeValidationContent
	}
	return code
}

// NewNetworkError builds a network-family error.
func NewNetworkError(message string, code ErrorCode, opts ...Option) *ProcessingError {
	if code.Kind() != KindNetwork {
		code = CodeNetworkConnectionFailed
	}
	return New(message, code, opts...)
}

// NewEngineError builds an engine lifecycle error.
func NewEngineError(message string, code ErrorCode, opts ...Option) *ProcessingError {
	if code.Kind() != KindEngine {
		code = CodeEngineExecutionFailed
	}
	return New(message, code, opts...)
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeNetworkTimeout, CodeNetworkConnectionFailed, CodeMemoryExceeded:
		return true
	}
	return false
}

// Log emits e unless it has already been logged, and returns it.
func (e *ProcessingError) Log() *ProcessingError {
	e.log()
	return e
}

func (e *ProcessingError) log() {
	if e.logged {
		return
	}
	e.logged = true
	level := slog.LevelError
	if e.Recoverable {
		level = slog.LevelWarn
	}
	attrs := []any{"kind", string(e.Kind), "code", string(e.Code), "recoverable", e.Recoverable}
	if e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause.Error())
	}
	if e.RecoverySuggestion != "" {
		attrs = append(attrs, "suggestion", e.RecoverySuggestion)
	}
	attrs = append(attrs, e.Context.Attrs()...)
	logger().Log(context.Background(), level, e.Message, attrs...)
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches another ProcessingError carrying the same code, so sentinels
// built with Sentinel work with errors.Is.
func (e *ProcessingError) Is(target error) bool {
	var t *ProcessingError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Annotate merges kv into the error's context and returns the error.
func (e *ProcessingError) Annotate(kv map[string]any) *ProcessingError {
	e.Context.Update(kv)
	return e
}

// ToMap renders the error as a JSON-friendly map for diagnostics dumps.
func (e *ProcessingError) ToMap() map[string]any {
	m := map[string]any{
		"error_type":  string(e.Kind),
		"message":     e.Message,
		"code":        string(e.Code),
		"recoverable": e.Recoverable,
		"context":     e.Context.clone(),
	}
	if e.Cause != nil {
		m["cause"] = e.Cause.Error()
	}
	if e.RecoverySuggestion != "" {
		m["recovery_suggestion"] = e.RecoverySuggestion
	}
	return m
}

// Sentinel returns an unlogged error usable as an errors.Is target.
func Sentinel(code ErrorCode) error {
	return &ProcessingError{Kind: code.Kind(), Code: code, Context: &ErrorContext{}}
}

// As extracts a *ProcessingError from err's chain.
func As(err error) (*ProcessingError, bool) {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns err's code, or CodeUnknown for foreign errors.
func CodeOf(err error) ErrorCode {
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return CodeUnknown
}

// KindOf returns err's kind, or KindGeneric for foreign errors.
func KindOf(err error) Kind {
	if pe, ok := As(err); ok {
		return pe.Kind
	}
	return KindGeneric
}

// IsRecoverable reports whether err is a ProcessingError flagged recoverable.
func IsRecoverable(err error) bool {
	pe, ok := As(err)
	return ok && pe.Recoverable
}

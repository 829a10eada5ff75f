package core

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/metrics"
)

// FailMode is the declared posture of an engine towards bad input.
type FailMode int

const (
	// FailSoft engines never surface errors: a broken document ends the stream quietly.
	FailSoft FailMode = iota
	// FailHard engines hand the underlying failure to the consumer.
	FailHard
)

func (m FailMode) String() string {
	if m == FailHard {
		return "fail-hard"
	}
	return "fail-soft"
}

// Extractor is implemented by every engine variant.
type Extractor interface {
	// Name is the registry key the engine is bound to.
	Name() string
	// Mode is fixed per engine.
	Mode() FailMode
	// Supports is a cheap probe on suffix, MIME type or already-loaded bytes.
	// It must not perform I/O.
	Supports(src Source) bool
	// Elements streams the document in reading order. Two calls on identical
	// input must yield identical sequences.
	Elements(ctx context.Context, src Source) iter.Seq2[Element, error]
}

// Engine is the handle consumers receive from the registry. It enforces the
// declared fail mode and the element schema on top of an Extractor.
type Engine struct {
	ex     Extractor
	logger *slog.Logger
}

// NewEngine wraps ex. A nil logger falls back to slog.Default.
func NewEngine(ex Extractor, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ex: ex, logger: logger.With("engine", ex.Name())}
}

func (e *Engine) Name() string { return e.ex.Name() }

func (e *Engine) Mode() FailMode { return e.ex.Mode() }

// Unwrap exposes the underlying extractor.
func (e *Engine) Unwrap() Extractor { return e.ex }

// Supports never panics; a probe that blows up counts as "no".
func (e *Engine) Supports(src Source) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("supports probe panicked", "source", src.Label, "panic", fmt.Sprint(r))
			ok = false
		}
	}()
	return e.ex.Supports(src)
}

// Extract streams validated elements.
//
// Fail-soft engines: any engine error or panic is logged at WARN and ends the
// stream; the consumer never sees an error. Elements yielded before the
// failure stand. Fail-hard engines: the first error is yielded once, then the
// stream ends. Invalid elements are dropped (soft) or reported (hard).
func (e *Engine) Extract(ctx context.Context, src Source) iter.Seq2[Element, error] {
	return func(yield func(Element, error) bool) {
		var (
			inConsumer bool
			stopped    bool
			failure    error
			count      int
		)

		func() {
			defer func() {
				if r := recover(); r != nil {
					if inConsumer {
						panic(r)
					}
					failure = fmt.Errorf("engine panicked: %v", r)
				}
			}()

			for el, err := range e.ex.Elements(ctx, src) {
				if err != nil {
					failure = err
					return
				}
				if verr := el.Validate(); verr != nil {
					if e.Mode() == FailHard {
						if pe, ok := errs.As(verr); ok {
							pe.Log()
						}
						failure = verr
						return
					}
					e.logger.Warn("dropping invalid element", "source", src.Label, "error", verr)
					continue
				}
				count++
				inConsumer = true
				ok := yield(el, nil)
				inConsumer = false
				if !ok {
					stopped = true
					return
				}
			}
		}()

		metrics.ElementsExtracted.WithLabelValues(e.Name()).Add(float64(count))

		if failure == nil || stopped {
			return
		}
		metrics.ExtractionFailures.WithLabelValues(e.Name(), e.Mode().String(), string(errs.CodeOf(failure))).Inc()

		if e.Mode() == FailSoft {
			e.logger.Warn("extraction failed, returning partial result",
				"source", src.Label, "elements", count, "error", failure)
			return
		}

		if _, ok := errs.As(failure); !ok {
			failure = errs.NewExtractionError("extraction failed", errs.CodeEngineExecutionFailed,
				errs.WithCause(failure),
				errs.WithFields(map[string]any{"engine_name": e.Name(), "file_path": src.Label}),
			)
		}
		yield(Element{}, failure)
	}
}

// Collect drains Extract into a slice, stopping at the first error.
func (e *Engine) Collect(ctx context.Context, src Source) ([]Element, error) {
	var out []Element
	for el, err := range e.Extract(ctx, src) {
		if err != nil {
			return out, err
		}
		out = append(out, el)
	}
	return out, nil
}

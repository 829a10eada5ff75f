// Package recovery retries or reroutes failed extractions and keeps a tally
// of what went wrong.
package recovery

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/retry"
)

// Attempt describes the operation that failed.
type Attempt struct {
	Source core.Source
	// Engine is the key of the engine that produced the error.
	Engine string
	// Run re-invokes the original operation.
	Run func(ctx context.Context) ([]core.Element, error)
}

// Strategy is one way of getting a result despite err.
type Strategy interface {
	Name() string
	CanRecover(err error) bool
	Recover(ctx context.Context, err error, a Attempt) ([]core.Element, error)
}

// EngineLoader is the registry surface the fallback strategy needs.
type EngineLoader interface {
	Load(key string) (*core.Engine, error)
}

var fallbackCodes = map[errs.ErrorCode]bool{
	errs.CodeEngineExecutionFailed: true,
	errs.CodeUnsupportedFormat:     true,
	errs.CodeExtractionFailed:      true,
	errs.CodeFileCorrupted:         true,
}

// FallbackEngine retries the source on alternate engines in order. An
// engine that errors, cannot be loaded, does not claim the source, or yields
// nothing counts as a miss. When every alternate misses, the original error
// is returned.
type FallbackEngine struct {
	Engines EngineLoader
	Keys    []string
	Logger  *slog.Logger
}

func (f *FallbackEngine) Name() string { return "fallback_engine" }

func (f *FallbackEngine) CanRecover(err error) bool {
	return len(f.Keys) > 0 && fallbackCodes[errs.CodeOf(err)]
}

func (f *FallbackEngine) Recover(ctx context.Context, err error, a Attempt) ([]core.Element, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, key := range f.Keys {
		if key == a.Engine {
			continue
		}
		eng, lerr := f.Engines.Load(key)
		if lerr != nil {
			logger.Warn("fallback engine unavailable", "engine", key, "error", lerr)
			continue
		}
		if !eng.Supports(a.Source) {
			continue
		}
		out, ferr := eng.Collect(ctx, a.Source)
		if ferr != nil || len(out) == 0 {
			logger.Info("fallback engine missed", "engine", key, "source", a.Source.Label, "error", ferr)
			continue
		}
		logger.Info("fallback engine recovered extraction", "engine", key, "source", a.Source.Label, "failed_engine", a.Engine)
		return out, nil
	}
	return nil, err
}

var transientCodes = map[errs.ErrorCode]bool{
	errs.CodeNetworkTimeout:          true,
	errs.CodeNetworkConnectionFailed: true,
	errs.CodeMemoryExceeded:          true,
}

// RetryWithDelay re-runs the operation after base * 2^retry_count while the
// error's own retry counter is below MaxRetries.
type RetryWithDelay struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep defaults to retry.Wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (r *RetryWithDelay) Name() string { return "retry_with_delay" }

func (r *RetryWithDelay) CanRecover(err error) bool {
	pe, ok := errs.As(err)
	if !ok || !transientCodes[pe.Code] {
		return false
	}
	return pe.Context.RetryCount < r.MaxRetries
}

func (r *RetryWithDelay) Recover(ctx context.Context, err error, a Attempt) ([]core.Element, error) {
	pe, _ := errs.As(err)
	count := 0
	if pe != nil {
		count = pe.Context.RetryCount
	}

	sleep := r.Sleep
	if sleep == nil {
		sleep = retry.Wait
	}
	delay := time.Duration(float64(r.BaseDelay) * math.Pow(2, float64(count)))
	if serr := sleep(ctx, delay); serr != nil {
		return nil, err
	}
	if pe != nil {
		pe.Annotate(map[string]any{"retry_count": count + 1, "max_retries": r.MaxRetries})
	}

	out, rerr := a.Run(ctx)
	if rerr != nil {
		if next, ok := errs.As(rerr); ok && next != pe {
			next.Annotate(map[string]any{"retry_count": count + 1, "max_retries": r.MaxRetries})
		}
		return nil, rerr
	}
	return out, nil
}

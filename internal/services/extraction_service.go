package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Extracta/internal/core"
	db "github.com/markdave123-py/Extracta/internal/core/database"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Extracta/internal/core/recovery"
	"github.com/markdave123-py/Extracta/internal/core/registry"
	"github.com/markdave123-py/Extracta/internal/core/source"
	"github.com/markdave123-py/Extracta/internal/models"
)

// SourceKey is the extra every streamed element carries to name its document.
const SourceKey = "source"

// Request is one document extraction.
//
// Engine:     registry key; empty means detect from the source.
// StorageURL: where the original upload was archived, recorded on the run.
type Request struct {
	Source     core.Source
	Engine     string
	StorageURL string
}

// ExtractionService ties the registry, resolver, recovery manager and run
// store together. Runs is optional.
type ExtractionService struct {
	engines  *registry.Registry
	resolver *source.Resolver
	recovery *recovery.Manager
	runs     db.RunStore
	order    []string
	logger   *slog.Logger
}

func NewExtractionService(engines *registry.Registry, resolver *source.Resolver, rec *recovery.Manager, runs db.RunStore, logger *slog.Logger) *ExtractionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractionService{
		engines:  engines,
		resolver: resolver,
		recovery: rec,
		runs:     runs,
		order:    ingestion_engine.DetectionOrder,
		logger:   logger.With("component", "extraction_service"),
	}
}

// Engines lists every registered key. Only engines that are already loaded
// report a mode; listing never triggers construction.
func (s *ExtractionService) Engines() []models.EngineInfo {
	keys := s.engines.Keys()
	out := make([]models.EngineInfo, 0, len(keys))
	for _, k := range keys {
		info := models.EngineInfo{Key: k, Loaded: s.engines.Loaded(k)}
		if info.Loaded {
			info.Mode = s.engines.MustLoad(k).Mode().String()
		}
		out = append(out, info)
	}
	return out
}

// Detect picks the first engine in detection order that claims src.
func (s *ExtractionService) Detect(src core.Source) (string, error) {
	probe := func(key string) (bool, error) {
		eng, err := s.engines.Load(key)
		if err != nil {
			return false, err
		}
		return eng.Supports(src), nil
	}
	if key, ok := ingestion_engine.Detect(probe, s.order); ok {
		return key, nil
	}
	return "", errs.NewExtractionError("no engine supports this document", errs.CodeUnsupportedFormat,
		errs.Recoverable(false),
		errs.WithFields(map[string]any{"file_path": src.Label, "file_type": src.ContentType()}),
		errs.WithSuggestion("pass an explicit engine key or convert the document"),
	)
}

// Stream extracts one document. Every element is tagged with the source
// label. When the engine fails before yielding anything, the failure goes
// through the recovery manager; a failure after partial output is passed on
// unchanged so no element is delivered twice.
func (s *ExtractionService) Stream(ctx context.Context, req Request) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		src := req.Source
		key := req.Engine
		if key == "" {
			var err error
			if key, err = s.Detect(src); err != nil {
				yield(core.Element{}, err)
				return
			}
		}
		eng, err := s.engines.Load(key)
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		run := s.startRun(ctx, src.Label, key, req.StorageURL)

		count := 0
		for el, err := range eng.Extract(ctx, src) {
			if err != nil {
				if count > 0 {
					s.finishRun(ctx, run, models.RunFailed, count, err)
					yield(core.Element{}, err)
					return
				}
				s.recover(ctx, run, eng, src, err, yield)
				return
			}
			count++
			if !yield(el.WithExtra(SourceKey, src.Label), nil) {
				s.finishRun(ctx, run, models.RunSucceeded, count, nil)
				return
			}
		}
		s.finishRun(ctx, run, models.RunSucceeded, count, nil)
	}
}

func (s *ExtractionService) recover(ctx context.Context, run *models.Run, eng *core.Engine, src core.Source, err error, yield func(core.Element, error) bool) {
	if s.recovery == nil {
		s.finishRun(ctx, run, models.RunFailed, 0, err)
		yield(core.Element{}, err)
		return
	}
	out, rerr := s.recovery.Recover(ctx, err, recovery.Attempt{
		Source: src,
		Engine: eng.Name(),
		Run:    func(ctx context.Context) ([]core.Element, error) { return eng.Collect(ctx, src) },
	})
	if rerr != nil {
		s.finishRun(ctx, run, models.RunFailed, 0, rerr)
		yield(core.Element{}, rerr)
		return
	}
	s.finishRun(ctx, run, models.RunRecovered, len(out), nil)
	for _, el := range out {
		if !yield(el.WithExtra(SourceKey, src.Label), nil) {
			return
		}
	}
}

// ExtractSource resolves arg and streams every document it names. Errors
// for one document are yielded and the walk moves on to the next one.
func (s *ExtractionService) ExtractSource(ctx context.Context, arg, engine string) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		for src, err := range s.resolver.Resolve(ctx, arg) {
			if err != nil {
				if !yield(core.Element{}, err) {
					return
				}
				continue
			}
			for el, err := range s.Stream(ctx, Request{Source: src, Engine: engine}) {
				if !yield(el, err) {
					return
				}
			}
		}
	}
}

// Sources exposes the resolver for callers that fan documents out themselves.
func (s *ExtractionService) Sources(ctx context.Context, arg string) iter.Seq2[core.Source, error] {
	return s.resolver.Resolve(ctx, arg)
}

// Run looks up a recorded extraction.
func (s *ExtractionService) Run(ctx context.Context, id string) (*models.Run, error) {
	if s.runs == nil {
		return nil, db.ErrRunNotFound
	}
	return s.runs.GetRun(ctx, id)
}

// Runs lists recent extractions, newest first.
func (s *ExtractionService) Runs(ctx context.Context, limit int) ([]models.Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

func (s *ExtractionService) startRun(ctx context.Context, label, engine, storageURL string) *models.Run {
	if s.runs == nil {
		return nil
	}
	run := &models.Run{
		ID:         uuid.NewString(),
		Source:     label,
		Engine:     engine,
		Status:     models.RunRunning,
		StorageURL: storageURL,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.runs.CreateRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("could not record run", "source", label, "error", err)
		return nil
	}
	return run
}

// finishRun persists the outcome even when ctx is already cancelled.
func (s *ExtractionService) finishRun(ctx context.Context, run *models.Run, status string, elements int, err error) {
	if run == nil {
		return
	}
	db.FinishedNow(run, status)
	run.Elements = elements
	if err != nil {
		run.ErrorCode = string(errs.CodeOf(err))
		run.ErrorMessage = clientMessage(err)
	}
	if ferr := s.runs.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		s.logger.Warn("could not finish run", "run_id", run.ID, "error", ferr)
	}
}

// clientMessage returns the message of a ProcessingError without its cause.
func clientMessage(err error) string {
	if pe, ok := errs.As(err); ok {
		return pe.Message
	}
	return fmt.Sprint(err)
}

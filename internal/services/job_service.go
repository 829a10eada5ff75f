package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/models"
)

// ErrQueueFull is returned by Enqueue when every queue slot is taken.
var ErrQueueFull = errors.New("job queue is full")

const defaultQueueSize = 64

// JobService runs ExtractSource in the background.
//
// extract:    the extraction service jobs run through.
// objects:    object storage for s3:// results dirs (may be nil).
// resultsDir: local dir or s3://bucket/prefix receiving <job id>.ndjson.
// jobs:       bounded in-memory queue of job ids.
type JobService struct {
	extract    *ExtractionService
	objects    core.ObjectClient
	resultsDir string
	workers    int
	jobs       chan string
	logger     *slog.Logger

	mu    sync.RWMutex
	table map[string]*models.Job

	group *errgroup.Group
}

func NewJobService(extract *ExtractionService, objects core.ObjectClient, resultsDir string, workers int, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	return &JobService{
		extract:    extract,
		objects:    objects,
		resultsDir: resultsDir,
		workers:    workers,
		jobs:       make(chan string, defaultQueueSize),
		logger:     logger.With("component", "job_service"),
		table:      make(map[string]*models.Job),
	}
}

// Start launches the workers. They exit when ctx is cancelled; Wait blocks
// until they have.
func (s *JobService) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for range s.workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case id := <-s.jobs:
					s.processOne(gctx, id)
				}
			}
		})
	}
	s.group = g
}

// Wait blocks until every worker started by Start has returned.
func (s *JobService) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Enqueue records a job and schedules it without blocking.
func (s *JobService) Enqueue(sourceArg, engine string) (models.Job, error) {
	job := &models.Job{
		ID:        uuid.NewString(),
		Source:    sourceArg,
		Engine:    engine,
		Status:    models.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.table[job.ID] = job
	s.mu.Unlock()

	select {
	case s.jobs <- job.ID:
		return *job, nil
	default:
		s.mu.Lock()
		delete(s.table, job.ID)
		s.mu.Unlock()
		return models.Job{}, ErrQueueFull
	}
}

// Get returns a snapshot of job id.
func (s *JobService) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.table[id]
	if !ok {
		return models.Job{}, false
	}
	return *job, true
}

func (s *JobService) update(id string, fn func(*models.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.table[id]; ok {
		fn(job)
	}
}

// processOne extracts everything the job's source names and stores the NDJSON.
func (s *JobService) processOne(ctx context.Context, id string) {
	job, ok := s.Get(id)
	if !ok {
		return
	}
	s.update(id, func(j *models.Job) { j.Status = models.JobRunning })
	s.logger.Info("job started", "job_id", id, "source", job.Source)

	var buf bytes.Buffer
	out := NewResultWriter(&buf)
	werr := out.Drain(s.extract.ExtractSource(ctx, job.Source, job.Engine))

	var url string
	if werr == nil {
		url, werr = s.store(ctx, id, buf.Bytes())
	}

	now := time.Now().UTC()
	s.update(id, func(j *models.Job) {
		j.Documents = out.Documents()
		j.Elements = out.Elements
		j.Errors = out.Errors
		j.ResultURL = url
		j.FinishedAt = &now
		switch {
		case werr != nil:
			j.Status = models.JobFailed
			j.Error = werr.Error()
		case out.Elements == 0 && out.Errors > 0:
			j.Status = models.JobFailed
			j.Error = "no document could be extracted"
		default:
			j.Status = models.JobDone
		}
	})
	s.logger.Info("job finished", "job_id", id, "elements", out.Elements, "errors", out.Errors, "result", url)
}

// store writes data to <resultsDir>/<id>.ndjson, uploading when resultsDir
// is an s3:// prefix.
func (s *JobService) store(ctx context.Context, id string, data []byte) (string, error) {
	name := id + ".ndjson"
	if rest, ok := strings.CutPrefix(s.resultsDir, "s3://"); ok {
		if s.objects == nil {
			return "", fmt.Errorf("no object client for %s", s.resultsDir)
		}
		bucket, prefix, _ := strings.Cut(rest, "/")
		key := strings.TrimPrefix(strings.TrimSuffix(prefix, "/")+"/"+name, "/")
		return s.objects.UploadFile(ctx, bucket, key, bytes.NewReader(data), "application/x-ndjson")
	}
	if err := os.MkdirAll(s.resultsDir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(s.resultsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}

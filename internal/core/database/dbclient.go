package db

import (
	"context"
	"errors"
	"time"

	"github.com/markdave123-py/Extracta/internal/models"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists extraction runs so callers can look them up after the
// stream has finished.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	Close() error
}

// FinishedNow stamps run as finished with status.
func FinishedNow(run *models.Run, status string) {
	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
}

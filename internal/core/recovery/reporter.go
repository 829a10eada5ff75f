package recovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
)

// ErrorCount is one (kind, code) bucket of the tally.
type ErrorCount struct {
	Kind  errs.Kind      `json:"kind"`
	Code  errs.ErrorCode `json:"code"`
	Count int            `json:"count"`
}

// Summary is the short form of a report.
type Summary struct {
	Total          int          `json:"total_errors"`
	Recoverable    int          `json:"recoverable_errors"`
	NonRecoverable int          `json:"non_recoverable_errors"`
	TopErrors      []ErrorCount `json:"top_errors"`
}

// Report is the full diagnostics dump.
type Report struct {
	ID          string           `json:"id"`
	GeneratedAt time.Time        `json:"generated_at"`
	Summary     Summary          `json:"summary"`
	Errors      []map[string]any `json:"errors"`
}

type tallyKey struct {
	kind errs.Kind
	code errs.ErrorCode
}

// Reporter accumulates errors. It is safe for concurrent use.
type Reporter struct {
	mu          sync.Mutex
	entries     []map[string]any
	counts      map[tallyKey]int
	recoverable int
	now         func() time.Time
}

func NewReporter() *Reporter {
	return &Reporter{counts: make(map[tallyKey]int), now: time.Now}
}

// Add records err. Errors outside the taxonomy are filed as generic unknown
// errors without being converted.
func (r *Reporter) Add(err error) {
	if err == nil {
		return
	}
	var (
		entry map[string]any
		key   tallyKey
		rec   bool
	)
	if pe, ok := errs.As(err); ok {
		entry = pe.ToMap()
		key = tallyKey{pe.Kind, pe.Code}
		rec = pe.Recoverable
	} else {
		key = tallyKey{errs.KindGeneric, errs.CodeUnknown}
		entry = map[string]any{
			"error_type":  string(key.kind),
			"message":     err.Error(),
			"code":        string(key.code),
			"recoverable": false,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.counts[key]++
	if rec {
		r.recoverable++
	}
}

// Len returns the number of recorded errors.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Summary tallies the recorded errors. TopErrors holds at most topN buckets,
// most frequent first, ties broken by kind then code.
func (r *Reporter) Summary(topN int) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked(topN)
}

func (r *Reporter) summaryLocked(topN int) Summary {
	top := make([]ErrorCount, 0, len(r.counts))
	for k, n := range r.counts {
		top = append(top, ErrorCount{Kind: k.kind, Code: k.code, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		if top[i].Kind != top[j].Kind {
			return top[i].Kind < top[j].Kind
		}
		return top[i].Code < top[j].Code
	})
	if topN >= 0 && len(top) > topN {
		top = top[:topN]
	}
	return Summary{
		Total:          len(r.entries),
		Recoverable:    r.recoverable,
		NonRecoverable: len(r.entries) - r.recoverable,
		TopErrors:      top,
	}
}

// Dump returns the full report with every recorded error.
func (r *Reporter) Dump() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]map[string]any, len(r.entries))
	copy(entries, r.entries)
	return Report{
		ID:          uuid.NewString(),
		GeneratedAt: r.now().UTC(),
		Summary:     r.summaryLocked(10),
		Errors:      entries,
	}
}

// WriteDump serialises Dump into dir. An s3://bucket/prefix dir is uploaded
// through objects; anything else is a local directory. It returns where the
// report was written.
func (r *Reporter) WriteDump(ctx context.Context, dir string, objects core.ObjectClient) (string, error) {
	rep := r.Dump()
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal error report: %w", err)
	}
	name := "error-report-" + rep.ID + ".json"

	if rest, ok := strings.CutPrefix(dir, "s3://"); ok {
		if objects == nil {
			return "", fmt.Errorf("no object client for %s", dir)
		}
		bucket, prefix, _ := strings.Cut(rest, "/")
		key := strings.TrimPrefix(strings.TrimSuffix(prefix, "/")+"/"+name, "/")
		return objects.UploadFile(ctx, bucket, key, bytes.NewReader(body), "application/json")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dump dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write error report: %w", err)
	}
	return path, nil
}

package ingestion_engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*NDJSONExtractor)(nil)

const maxLineBytes = 1 << 20

// NDJSONExtractor replays element streams written by the CLI, one JSON
// object per line. Malformed lines are skipped and counted.
type NDJSONExtractor struct {
	deps *EngineDeps
}

func NewNDJSONExtractor(deps *EngineDeps) *NDJSONExtractor {
	return &NDJSONExtractor{deps: deps}
}

func (e *NDJSONExtractor) Name() string        { return "ndjson" }
func (e *NDJSONExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *NDJSONExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".ndjson", ".jsonl") || hasType(src, "application/x-ndjson", "application/jsonl")
}

func (e *NDJSONExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		rc, err := e.deps.openStream(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			yield(core.Element{}, err)
			return
		}
		defer rc.Close()

		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 64*1024), maxLineBytes)

		var lineNo, skippedLines int
		for sc.Scan() {
			lineNo++
			if err := ctx.Err(); err != nil {
				yield(core.Element{}, err)
				return
			}
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var el core.Element
			if err := json.Unmarshal(line, &el); err != nil || el.Type == "" {
				skippedLines++
				e.deps.logger().Warn("skipping malformed line", "source", src.Label, "line", lineNo, "error", err)
				continue
			}
			if !yield(el, nil) {
				return
			}
		}
		if skippedLines > 0 {
			e.deps.logger().Info("ndjson replay finished with skipped lines", "source", src.Label, "skipped", skippedLines)
		}
		if err := sc.Err(); err != nil {
			yield(core.Element{}, fmt.Errorf("scan line %d: %w", lineNo+1, err))
		}
	}
}

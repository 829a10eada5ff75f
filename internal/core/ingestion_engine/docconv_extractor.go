package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*DocconvExtractor)(nil)

var docconvExts = []string{".docx", ".doc", ".odt", ".pages", ".rtf", ".xml"}

// DocconvExtractor converts office formats to plain text and emits one
// NarrativeText element per paragraph block. It has no positional data, so
// page and coords are always absent.
type DocconvExtractor struct {
	deps           *EngineDeps
	useReadability bool
}

func NewDocconvExtractor(deps *EngineDeps, useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{deps: deps, useReadability: useReadability}
}

func (e *DocconvExtractor) Name() string        { return "docconv" }
func (e *DocconvExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *DocconvExtractor) Supports(src core.Source) bool {
	return hasExt(src, docconvExts...)
}

func (e *DocconvExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		data, err := e.deps.loadBytes(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		contentType := src.ContentType()
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = docconv.MimeTypeByExtension(src.Name())
		}

		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			yield(core.Element{}, fmt.Errorf("docconv %s: %w", contentType, err))
			return
		}
		if err := ctx.Err(); err != nil {
			yield(core.Element{}, err)
			return
		}
		if res.Body == "" {
			e.deps.logger().Debug("docconv: extracted empty text", "source", src.Label, "content_type", contentType)
			return
		}

		for b := range groupBlocks(splitLines(res.Body), e.deps.targetTokens()) {
			el := core.Element{Type: core.TypeNarrativeText, Text: b.Text}.
				WithExtra("block", b.Pos).
				WithExtra("tokens", b.TokenCnt)
			if !yield(el, nil) {
				return
			}
		}
	}
}

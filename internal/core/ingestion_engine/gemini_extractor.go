package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"iter"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/llm"
)

var _ core.Extractor = (*GeminiExtractor)(nil)

// GeminiExtractor delegates layout analysis to a hosted model. It is the
// fail-hard engine: a document the local parsers reject, a model failure or
// an answer that breaks the element schema all reach the consumer.
type GeminiExtractor struct {
	deps  *EngineDeps
	model core.DocumentModel
}

// NewGeminiExtractor builds the model client up front so a missing key is
// reported when the engine is loaded rather than on first use.
func NewGeminiExtractor(deps *EngineDeps) (*GeminiExtractor, error) {
	if deps == nil || deps.NewModel == nil {
		return nil, llm.ErrMissingAPIKey
	}
	m, err := deps.NewModel()
	if err != nil {
		return nil, err
	}
	return &GeminiExtractor{deps: deps, model: m}, nil
}

func (e *GeminiExtractor) Name() string        { return "gemini" }
func (e *GeminiExtractor) Mode() core.FailMode { return core.FailHard }

func (e *GeminiExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".txt", ".md", ".html", ".htm") ||
		hasType(src, "application/pdf", "image/png", "image/jpeg", "image/gif", "text/plain", "text/html") ||
		looksLikePDF(src.Head(8))
}

func (e *GeminiExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		data, err := e.deps.loadBytes(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			code := errs.CodeExtractionFailed
			if errors.Is(err, fs.ErrNotExist) {
				code = errs.CodeFileNotFound
			}
			yield(core.Element{}, errs.NewExtractionError("cannot read document", code,
				errs.WithCause(err),
				errs.WithFields(map[string]any{"engine_name": e.Name(), "file_path": src.Label}),
			))
			return
		}

		mimeType := sniffMIME(core.Source{Label: src.Label, Path: src.Path, URL: src.URL, Data: data, MIMEType: src.MIMEType})
		if err := preParse(mimeType, data); err != nil {
			yield(core.Element{}, errs.NewExtractionError("document failed local parsing", errs.CodeFileCorrupted,
				errs.WithCause(err),
				errs.WithFields(map[string]any{"engine_name": e.Name(), "file_path": src.Label, "mime_type": mimeType}),
				errs.WithSuggestion("check that the file is complete and matches its extension"),
			))
			return
		}

		answer, err := e.model.ExtractElements(ctx, mimeType, data, llm.ElementsPrompt)
		if err != nil {
			if _, ok := errs.As(err); !ok {
				err = errs.NewEngineError("document model call failed", errs.CodeEngineExecutionFailed,
					errs.WithCause(err),
					errs.WithFields(map[string]any{"engine_name": e.Name(), "file_path": src.Label}),
				)
			}
			yield(core.Element{}, err)
			return
		}

		elements, err := decodeAnswer(answer)
		if err != nil {
			yield(core.Element{}, errs.NewValidationError("document model answer rejected", errs.CodeValidationSchema,
				errs.WithCause(err),
				errs.WithFields(map[string]any{"engine_name": e.Name(), "file_path": src.Label}),
			))
			return
		}
		for _, el := range elements {
			if !yield(el, nil) {
				return
			}
		}
	}
}

// preParse runs the cheapest local parser that can reject the payload.
func preParse(mimeType string, data []byte) error {
	switch {
	case len(data) == 0:
		return errors.New("empty document")
	case mimeType == "application/pdf":
		_, pages, err := openPDF(data)
		if err != nil {
			return err
		}
		if pages < 1 {
			return errors.New("pdf has no pages")
		}
		return nil
	case strings.HasPrefix(mimeType, "image/"):
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("decode image header: %w", err)
		}
		return nil
	case strings.HasPrefix(mimeType, "text/"):
		if !utf8.Valid(data) {
			return errors.New("text is not valid UTF-8")
		}
		return nil
	default:
		return fmt.Errorf("unsupported content type %q", mimeType)
	}
}

// decodeAnswer validates the model output and orders it by page. Elements
// on the same page keep the model's order.
func decodeAnswer(answer string) ([]core.Element, error) {
	raw := []byte(llm.StripFences(answer))
	if err := llm.ValidateElements(raw); err != nil {
		return nil, err
	}
	var out []core.Element
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode elements: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return pageOrder(out[i]) < pageOrder(out[j])
	})
	return out, nil
}

func pageOrder(el core.Element) int {
	if el.Page == nil {
		return 0
	}
	return *el.Page
}

package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*TextExtractor)(nil)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// TextExtractor splits plain text and Markdown into paragraph blocks.
// Form feeds separate pages. Input with a byte-order mark is decoded
// accordingly; other input that is not valid UTF-8 is read as Windows-1252.
type TextExtractor struct {
	deps *EngineDeps
}

func NewTextExtractor(deps *EngineDeps) *TextExtractor {
	return &TextExtractor{deps: deps}
}

func (e *TextExtractor) Name() string        { return "text" }
func (e *TextExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *TextExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".txt", ".md", ".markdown", ".text", ".log") ||
		strings.HasPrefix(src.ContentType(), "text/plain") ||
		hasType(src, "text/markdown")
}

func (e *TextExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		data, err := e.deps.loadBytes(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		text, err := decodeText(data)
		if err != nil {
			yield(core.Element{}, err)
			return
		}
		markdown := hasExt(src, ".md", ".markdown") || hasType(src, "text/markdown")

		for i, pageText := range strings.Split(text, "\f") {
			if err := ctx.Err(); err != nil {
				yield(core.Element{}, err)
				return
			}
			for b := range groupBlocks(splitLines(pageText), e.deps.targetTokens()) {
				el := textBlock(b.Text, markdown)
				el.Page = core.PageNum(i + 1)
				if !yield(el.WithExtra("block", b.Pos), nil) {
					return
				}
			}
		}
	}
}

func textBlock(text string, markdown bool) core.Element {
	single := !strings.Contains(text, "\n")
	if markdown && single && strings.HasPrefix(text, "#") {
		level := len(text) - len(strings.TrimLeft(text, "#"))
		if title := strings.TrimSpace(text[level:]); title != "" && level <= 6 {
			return core.Element{Type: core.TypeTitle, Text: title}.WithExtra("heading_level", level)
		}
	}
	if single && listMarker.MatchString(text) {
		return core.Element{Type: core.TypeListItem, Text: text}
	}
	return core.Element{Type: core.TypeNarrativeText, Text: text}
}

// decodeText returns data as UTF-8.
func decodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8), bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
		if err != nil {
			return "", fmt.Errorf("decode text: %w", err)
		}
		return string(out), nil
	case utf8.Valid(data):
		return string(data), nil
	default:
		out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		if err != nil {
			return "", fmt.Errorf("decode windows-1252: %w", err)
		}
		return string(out), nil
	}
}

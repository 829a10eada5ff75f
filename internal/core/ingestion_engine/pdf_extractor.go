package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*PDFExtractor)(nil)

const (
	defaultPageHeight = 792.0
	maxParentDepth    = 32
	titleScale        = 1.3
)

var listMarker = regexp.MustCompile(`^(?:[•▪◦\-*–]|\(?\d{1,3}[.)]|[a-zA-Z][.)])\s+`)

// PDFExtractor lays out the text runs of each page into blocks with
// coordinates. Coordinates use a top-left origin in PDF points.
//
// A page that fails to decode is skipped; the rest of the document is still
// returned.
type PDFExtractor struct {
	deps *EngineDeps
}

func NewPDFExtractor(deps *EngineDeps) *PDFExtractor {
	return &PDFExtractor{deps: deps}
}

func (e *PDFExtractor) Name() string        { return "pdf" }
func (e *PDFExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *PDFExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".pdf") || hasType(src, "application/pdf") || looksLikePDF(src.Head(8))
}

func (e *PDFExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		data, err := e.deps.loadBytes(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		reader, pages, err := openPDF(data)
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		for i := 1; i <= pages; i++ {
			if err := ctx.Err(); err != nil {
				yield(core.Element{}, err)
				return
			}
			blocks, err := pageBlocks(reader, i)
			if err != nil {
				e.deps.logger().Warn("skipping unreadable pdf page", "source", src.Label, "page", i, "error", err)
				continue
			}
			for _, el := range blocks {
				if !yield(el, nil) {
					return
				}
			}
		}
	}
}

// openPDF parses the cross-reference table. The library panics on some
// malformed inputs; those are reported as errors.
func openPDF(data []byte) (r *pdf.Reader, pages int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("malformed pdf: %v", p)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	return r, r.NumPage(), nil
}

// run is a horizontal stretch of glyphs on one baseline.
type run struct {
	x0, x1   float64
	baseline float64
	size     float64
	text     string
}

func pageBlocks(r *pdf.Reader, n int) (out []core.Element, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("page %d: %v", n, p)
		}
	}()

	page := r.Page(n)
	if page.V.IsNull() {
		return nil, nil
	}
	height := pageHeight(page.V)
	lines := layoutLines(page.Content().Text)
	if len(lines) == 0 {
		return nil, nil
	}

	median := medianSize(lines)
	for _, b := range mergeLines(lines) {
		text := strings.TrimSpace(b.text)
		if text == "" {
			continue
		}
		top := height - (b.baseline + b.size)
		bottom := height - b.bottom
		el := core.Element{
			Page:   core.PageNum(n),
			Type:   classifyBlock(text, b.size, median),
			Text:   text,
			Coords: core.Box(round2(b.x0), round2(top), round2(b.x1), round2(bottom)),
		}
		out = append(out, el.WithExtra("font_size", round2(b.size)))
	}
	return out, nil
}

// layoutLines groups glyphs sharing a baseline and orders lines top to
// bottom, glyphs left to right.
func layoutLines(texts []pdf.Text) []run {
	items := make([]pdf.Text, 0, len(texts))
	for _, t := range texts {
		if t.S != "" {
			items = append(items, t)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if math.Abs(items[i].Y-items[j].Y) > baselineTolerance(items[i], items[j]) {
			return items[i].Y > items[j].Y
		}
		return items[i].X < items[j].X
	})

	var (
		lines []run
		cur   *run
		sb    strings.Builder
	)
	closeLine := func() {
		if cur != nil {
			cur.text = sb.String()
			lines = append(lines, *cur)
			cur = nil
			sb.Reset()
		}
	}
	for _, t := range items {
		if cur != nil && math.Abs(t.Y-cur.baseline) <= baselineTolerance(t, pdf.Text{FontSize: cur.size}) {
			if gap := t.X - cur.x1; gap > 0.25*t.FontSize && !strings.HasSuffix(sb.String(), " ") && t.S != " " {
				sb.WriteByte(' ')
			}
			sb.WriteString(t.S)
			cur.x1 = math.Max(cur.x1, t.X+t.W)
			cur.size = math.Max(cur.size, t.FontSize)
			continue
		}
		closeLine()
		cur = &run{x0: t.X, x1: t.X + t.W, baseline: t.Y, size: t.FontSize}
		sb.WriteString(t.S)
	}
	closeLine()
	return lines
}

func baselineTolerance(a, b pdf.Text) float64 {
	s := math.Max(a.FontSize, b.FontSize)
	if s <= 0 {
		return 1
	}
	return s * 0.5
}

// para is a run of lines merged into one block.
type para struct {
	x0, x1   float64
	baseline float64 // of the first line
	bottom   float64 // lowest baseline, PDF space
	size     float64
	text     string
}

// mergeLines joins consecutive lines of similar size and tight leading.
func mergeLines(lines []run) []para {
	var out []para
	for i, l := range lines {
		if i > 0 && len(out) > 0 {
			prev := &out[len(out)-1]
			leading := prev.bottom - l.baseline
			sameSize := math.Abs(l.size-prev.size) <= 0.1*math.Max(l.size, prev.size)
			if sameSize && leading > 0 && leading <= 1.6*l.size && !listMarker.MatchString(strings.TrimSpace(l.text)) {
				prev.text += "\n" + l.text
				prev.x0 = math.Min(prev.x0, l.x0)
				prev.x1 = math.Max(prev.x1, l.x1)
				prev.bottom = l.baseline
				continue
			}
		}
		out = append(out, para{
			x0: l.x0, x1: l.x1,
			baseline: l.baseline, bottom: l.baseline,
			size: l.size, text: l.text,
		})
	}
	return out
}

func classifyBlock(text string, size, median float64) string {
	switch {
	case listMarker.MatchString(text):
		return core.TypeListItem
	case median > 0 && size >= titleScale*median && len(text) < 200:
		return core.TypeTitle
	default:
		return core.TypeNarrativeText
	}
}

func medianSize(lines []run) float64 {
	sizes := make([]float64, 0, len(lines))
	for _, l := range lines {
		sizes = append(sizes, l.size)
	}
	sort.Float64s(sizes)
	mid := len(sizes) / 2
	if len(sizes)%2 == 0 {
		return (sizes[mid-1] + sizes[mid]) / 2
	}
	return sizes[mid]
}

// pageHeight reads MediaBox, walking up the page tree for inherited values.
func pageHeight(v pdf.Value) float64 {
	for depth := 0; depth < maxParentDepth && !v.IsNull(); depth++ {
		box := v.Key("MediaBox")
		if box.Kind() == pdf.Array && box.Len() == 4 {
			if h := box.Index(3).Float64() - box.Index(1).Float64(); h > 0 {
				return h
			}
		}
		v = v.Key("Parent")
	}
	return defaultPageHeight
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

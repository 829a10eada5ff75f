package ingestion_engine

import (
	"context"
	"errors"
	"iter"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*HTMLExtractor)(nil)

// HTMLExtractor walks the parsed DOM in document order. The document title
// and headings become Title, paragraphs NarrativeText, list items ListItem
// and table rows Table with cells joined by tabs. Text outside those blocks
// is emitted as Text.
type HTMLExtractor struct {
	deps *EngineDeps
}

func NewHTMLExtractor(deps *EngineDeps) *HTMLExtractor {
	return &HTMLExtractor{deps: deps}
}

func (e *HTMLExtractor) Name() string        { return "html" }
func (e *HTMLExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *HTMLExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".html", ".htm", ".xhtml") ||
		hasType(src, "text/html", "application/xhtml+xml") ||
		looksLikeHTML(src.Head(256))
}

func (e *HTMLExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
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

		doc, err := html.Parse(rc)
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		for el := range walkHTML(doc) {
			if err := ctx.Err(); err != nil {
				yield(core.Element{}, err)
				return
			}
			if !yield(el, nil) {
				return
			}
		}
	}
}

var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

var headingLevel = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

func walkHTML(root *html.Node) iter.Seq[core.Element] {
	return func(yield func(core.Element) bool) {
		var visit func(n *html.Node) bool
		visit = func(n *html.Node) bool {
			switch n.Type {
			case html.TextNode:
				if t := collapse(n.Data); t != "" {
					return yield(core.Element{Type: core.TypeText, Text: t})
				}
				return true
			case html.ElementNode:
				if skipped[n.DataAtom] {
					return true
				}
				if lvl, ok := headingLevel[n.DataAtom]; ok {
					return emit(yield, core.Element{Type: core.TypeTitle, Text: textOf(n)}.WithExtra("heading_level", lvl))
				}
				switch n.DataAtom {
				case atom.Title:
					return emit(yield, core.Element{Type: core.TypeTitle, Text: textOf(n)})
				case atom.P, atom.Blockquote, atom.Pre:
					return emit(yield, core.Element{Type: core.TypeNarrativeText, Text: textOf(n)})
				case atom.Li, atom.Dt, atom.Dd:
					return emit(yield, core.Element{Type: core.TypeListItem, Text: textOf(n)})
				case atom.Tr:
					return emit(yield, core.Element{Type: core.TypeTable, Text: rowText(n)})
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if !visit(c) {
					return false
				}
			}
			return true
		}
		visit(root)
	}
}

func emit(yield func(core.Element) bool, el core.Element) bool {
	if el.Text == "" {
		return true
	}
	return yield(el)
}

// textOf concatenates the visible text below n with whitespace collapsed.
func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return collapse(sb.String())
}

func rowText(tr *html.Node) string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, textOf(c))
		}
	}
	if strings.TrimSpace(strings.Join(cells, "")) == "" {
		return ""
	}
	return strings.Join(cells, "\t")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package ingestion_engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
	"github.com/markdave123-py/Extracta/internal/core/registry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	errs.SetLogger(quiet)
}

func testDeps() *EngineDeps {
	return &EngineDeps{Fetcher: fetch.New(fetch.Config{}, quiet), Logger: quiet}
}

func collect(t *testing.T, ex core.Extractor, src core.Source) ([]core.Element, error) {
	t.Helper()
	return core.NewEngine(ex, quiet).Collect(context.Background(), src)
}

type brief struct {
	Page int
	Type string
	Text string
}

func summarize(els []core.Element) []brief {
	out := make([]brief, 0, len(els))
	for _, el := range els {
		b := brief{Type: el.Type, Text: el.Text}
		if el.Page != nil {
			b.Page = *el.Page
		}
		out = append(out, b)
	}
	return out
}

const sampleHTML = `<!DOCTYPE html>
<html><head><title>Report</title><script>var x = "ignored";</script></head>
<body>
<h1>Heading</h1>
<p>First   paragraph
spans lines.</p>
<ul><li>one</li><li>two</li></ul>
<table><tr><th>a</th><th>b</th></tr><tr><td>1</td><td>2</td></tr></table>
<div>loose text</div>
</body></html>`

func TestHTMLExtractor_ReadingOrder(t *testing.T) {
	ex := NewHTMLExtractor(testDeps())
	src := core.FromBytes("page.html", []byte(sampleHTML), "text/html")
	if !ex.Supports(src) {
		t.Fatal("html source not supported")
	}

	els, err := collect(t, ex, src)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []brief{
		{Type: core.TypeTitle, Text: "Report"},
		{Type: core.TypeTitle, Text: "Heading"},
		{Type: core.TypeNarrativeText, Text: "First paragraph spans lines."},
		{Type: core.TypeListItem, Text: "one"},
		{Type: core.TypeListItem, Text: "two"},
		{Type: core.TypeTable, Text: "a\tb"},
		{Type: core.TypeTable, Text: "1\t2"},
		{Type: core.TypeText, Text: "loose text"},
	}
	if got := summarize(els); !reflect.DeepEqual(got, want) {
		t.Errorf("elements:\n got %+v\nwant %+v", got, want)
	}
	if lvl := els[1].Extras["heading_level"]; lvl != 1 {
		t.Errorf("heading_level = %v", lvl)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := NewHTMLExtractor(testDeps())
	src := core.FromBytes("page.html", []byte(sampleHTML), "")
	a, _ := collect(t, ex, src)
	b, _ := collect(t, ex, src)
	if !reflect.DeepEqual(a, b) {
		t.Error("two runs over the same input differ")
	}
}

func TestTextExtractor_PagesAndParagraphs(t *testing.T) {
	ex := NewTextExtractor(testDeps())
	doc := "# Notes\n\nFirst line\nsecond line\n\n- item\n\fPage two body\n"
	els, err := collect(t, ex, core.FromBytes("notes.md", []byte(doc), ""))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []brief{
		{Page: 1, Type: core.TypeTitle, Text: "Notes"},
		{Page: 1, Type: core.TypeNarrativeText, Text: "First line\nsecond line"},
		{Page: 1, Type: core.TypeListItem, Text: "- item"},
		{Page: 2, Type: core.TypeNarrativeText, Text: "Page two body"},
	}
	if got := summarize(els); !reflect.DeepEqual(got, want) {
		t.Errorf("elements:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeText(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
	}{
		{"utf8", []byte("héllo"), "héllo"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "hi"...), "hi"},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, "hi"},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'h', 0, 'i'}, "hi"},
		{"windows-1252", []byte("caf\xe9 \x93q\x94"), "café “q”"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeText(tc.in)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGroupBlocks_TokenBound(t *testing.T) {
	lines := splitLines("aaaa bbbb\ncccc dddd\neeee\n\nffff")
	var got []string
	for b := range groupBlocks(lines, 5) {
		got = append(got, b.Text)
	}
	want := []string{"aaaa bbbb\ncccc dddd", "eeee", "ffff"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("blocks = %q, want %q", got, want)
	}
}

func TestXLSXExtractor_SheetsAndRows(t *testing.T) {
	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "name")
	_ = f.SetCellValue("Sheet1", "B1", "qty")
	_ = f.SetCellValue("Sheet1", "A2", "bolt")
	_ = f.SetCellValue("Sheet1", "B2", 4)
	if _, err := f.NewSheet("Totals"); err != nil {
		t.Fatal(err)
	}
	_ = f.SetCellValue("Totals", "A3", "sum")
	_ = f.SetCellValue("Totals", "B3", 4)
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	ex := NewXLSXExtractor(testDeps())
	els, err := collect(t, ex, core.FromBytes("stock.xlsx", buf.Bytes(), ""))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []brief{
		{Page: 1, Type: core.TypeTable, Text: "name\tqty"},
		{Page: 1, Type: core.TypeTable, Text: "bolt\t4"},
		{Page: 2, Type: core.TypeTable, Text: "sum\t4"},
	}
	if got := summarize(els); !reflect.DeepEqual(got, want) {
		t.Errorf("elements:\n got %+v\nwant %+v", got, want)
	}
	if els[2].Extras["sheet"] != "Totals" || els[2].Extras["row"] != 3 {
		t.Errorf("extras = %v", els[2].Extras)
	}
}

func TestNDJSON_MalformedBlockIsSkipped(t *testing.T) {
	doc := strings.Join([]string{
		`{"page":1,"type":"Title","text":"Intro"}`,
		`{"page":1,"type":"NarrativeText","text":"Body one"}`,
		`{"page":2,"type":"NarrativeText","text":`,
		`{"page":2,"type":"NarrativeText","text":"Body two","source":"a.pdf"}`,
	}, "\n")

	els, err := collect(t, NewNDJSONExtractor(testDeps()), core.FromBytes("dump.ndjson", []byte(doc), ""))
	if err != nil {
		t.Fatalf("fail-soft engine surfaced an error: %v", err)
	}
	want := []brief{
		{Page: 1, Type: core.TypeTitle, Text: "Intro"},
		{Page: 1, Type: core.TypeNarrativeText, Text: "Body one"},
		{Page: 2, Type: core.TypeNarrativeText, Text: "Body two"},
	}
	if got := summarize(els); !reflect.DeepEqual(got, want) {
		t.Errorf("elements:\n got %+v\nwant %+v", got, want)
	}
	if els[2].Extras["source"] != "a.pdf" {
		t.Errorf("extras lost: %v", els[2].Extras)
	}
}

func TestFailSoftEngines_CorruptInputYieldsNothing(t *testing.T) {
	garbage := []byte("%PDF-1.4 this is not really a pdf")
	cases := []struct {
		ex  core.Extractor
		src core.Source
	}{
		{NewPDFExtractor(testDeps()), core.FromBytes("broken.pdf", garbage, "")},
		{NewXLSXExtractor(testDeps()), core.FromBytes("broken.xlsx", garbage, "")},
		{NewDocconvExtractor(testDeps(), false), core.FromBytes("broken.docx", garbage, "")},
	}
	for _, tc := range cases {
		t.Run(tc.ex.Name(), func(t *testing.T) {
			els, err := collect(t, tc.ex, tc.src)
			if err != nil {
				t.Fatalf("fail-soft engine surfaced %v", err)
			}
			if len(els) != 0 {
				t.Errorf("got %d elements from garbage", len(els))
			}
		})
	}
}

func TestURLSource_DownloadFailureIsAbsence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok.txt" {
			_, _ = io.WriteString(w, "remote body")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ex := NewTextExtractor(testDeps())
	els, err := collect(t, ex, core.FromURL(srv.URL+"/ok.txt"))
	if err != nil || len(els) != 1 || els[0].Text != "remote body" {
		t.Fatalf("got %+v, %v", summarize(els), err)
	}

	els, err = collect(t, ex, core.FromURL(srv.URL+"/missing.txt"))
	if err != nil || len(els) != 0 {
		t.Errorf("missing URL: got %d elements, %v", len(els), err)
	}
}

func TestPathSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("on disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	els, err := collect(t, NewTextExtractor(testDeps()), core.FromPath(path))
	if err != nil || len(els) != 1 || els[0].Text != "on disk" {
		t.Fatalf("got %+v, %v", summarize(els), err)
	}

	deps := testDeps()
	deps.MaxFileBytes = 3
	els, err = collect(t, NewTextExtractor(deps), core.FromPath(path))
	if err != nil || len(els) != 0 {
		t.Errorf("oversized file: got %d elements, %v", len(els), err)
	}
}

func TestPDFLayout_LinesAndBlocks(t *testing.T) {
	texts := []pdf.Text{
		{X: 72, Y: 700, W: 30, S: "Hello", FontSize: 12},
		{X: 110, Y: 700, W: 30, S: "world", FontSize: 12},
		{X: 72, Y: 750, W: 60, S: "Heading", FontSize: 20},
		{X: 72, Y: 686, W: 40, S: "second", FontSize: 12},
		{X: 72, Y: 650, W: 40, S: "• bullet", FontSize: 12},
	}
	lines := layoutLines(texts)
	var got []string
	for _, l := range lines {
		got = append(got, l.text)
	}
	if want := []string{"Heading", "Hello world", "second", "• bullet"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}

	median := medianSize(lines)
	var types, texts2 []string
	for _, p := range mergeLines(lines) {
		types = append(types, classifyBlock(p.text, p.size, median))
		texts2 = append(texts2, p.text)
	}
	if want := []string{"Heading", "Hello world\nsecond", "• bullet"}; !reflect.DeepEqual(texts2, want) {
		t.Errorf("blocks = %q, want %q", texts2, want)
	}
	if want := []string{core.TypeTitle, core.TypeNarrativeText, core.TypeListItem}; !reflect.DeepEqual(types, want) {
		t.Errorf("types = %v, want %v", types, want)
	}
}

type fakeModel struct {
	answer string
	err    error
	calls  int
}

func (m *fakeModel) ExtractElements(context.Context, string, []byte, string) (string, error) {
	m.calls++
	return m.answer, m.err
}

func geminiWith(t *testing.T, m *fakeModel) *GeminiExtractor {
	t.Helper()
	deps := testDeps()
	deps.NewModel = func() (core.DocumentModel, error) { return m, nil }
	g, err := NewGeminiExtractor(deps)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGemini_ParserErrorPropagates(t *testing.T) {
	m := &fakeModel{answer: "[]"}
	g := geminiWith(t, m)

	_, err := collect(t, g, core.FromBytes("scan.pdf", []byte("%PDF-1.7 truncated"), ""))
	pe, ok := errs.As(err)
	if !ok || pe.Code != errs.CodeFileCorrupted {
		t.Fatalf("want FILE_CORRUPTED, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Error("parser error must be attached as cause")
	}
	if m.calls != 0 {
		t.Error("model called for a document that failed local parsing")
	}
}

func TestGemini_SchemaViolation(t *testing.T) {
	g := geminiWith(t, &fakeModel{answer: `[{"type":"Paragraph","text":"x"}]`})
	_, err := collect(t, g, core.FromBytes("a.txt", []byte("hello"), ""))
	if errs.CodeOf(err) != errs.CodeValidationSchema {
		t.Fatalf("want VALIDATION_SCHEMA, got %v", err)
	}
}

func TestGemini_ModelFailure(t *testing.T) {
	g := geminiWith(t, &fakeModel{err: errors.New("quota exceeded")})
	_, err := collect(t, g, core.FromBytes("a.txt", []byte("hello"), ""))
	if errs.CodeOf(err) != errs.CodeEngineExecutionFailed {
		t.Fatalf("want ENGINE_EXECUTION_FAILED, got %v", err)
	}
}

func TestGemini_OrdersByPage(t *testing.T) {
	answer := "```json\n" + `[
		{"page":2,"type":"NarrativeText","text":"later"},
		{"page":1,"type":"Title","text":"Top"},
		{"page":1,"type":"NarrativeText","text":"body","coords":[10,20,300,40]}
	]` + "\n```"
	g := geminiWith(t, &fakeModel{answer: answer})
	els, err := collect(t, g, core.FromBytes("a.txt", []byte("hello"), ""))
	if err != nil {
		t.Fatal(err)
	}
	want := []brief{
		{Page: 1, Type: core.TypeTitle, Text: "Top"},
		{Page: 1, Type: core.TypeNarrativeText, Text: "body"},
		{Page: 2, Type: core.TypeNarrativeText, Text: "later"},
	}
	if got := summarize(els); !reflect.DeepEqual(got, want) {
		t.Errorf("elements:\n got %+v\nwant %+v", got, want)
	}
	if c := els[1].Coords; c == nil || *c != [4]float64{10, 20, 300, 40} {
		t.Errorf("coords = %v", c)
	}
}

func TestDefaultFactories(t *testing.T) {
	r := registry.New(DefaultFactories(testDeps()), quiet)
	want := []string{"docconv", "gemini", "html", "ndjson", "pdf", "text", "xlsx"}
	if got := r.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v", got)
	}
	for _, key := range want {
		if key == "gemini" {
			continue
		}
		eng, err := r.Load(key)
		if err != nil {
			t.Fatalf("load %s: %v", key, err)
		}
		if eng.Name() != key || eng.Mode() != core.FailSoft {
			t.Errorf("%s: name %q mode %v", key, eng.Name(), eng.Mode())
		}
	}
	if _, err := r.Load("gemini"); errs.CodeOf(err) != errs.CodeEngineInitFailed {
		t.Errorf("gemini without a key: got %v", err)
	}
}

func TestDetect(t *testing.T) {
	r := registry.New(DefaultFactories(testDeps()), quiet)
	probe := func(src core.Source) func(string) (bool, error) {
		return func(key string) (bool, error) {
			eng, err := r.Load(key)
			if err != nil {
				return false, err
			}
			return eng.Supports(src), nil
		}
	}
	cases := map[string]string{
		"a.pdf":    "pdf",
		"b.docx":   "docconv",
		"c.htm":    "html",
		"d.xlsx":   "xlsx",
		"e.md":     "text",
		"f.ndjson": "ndjson",
	}
	for name, want := range cases {
		got, ok := Detect(probe(core.FromPath(name)), DetectionOrder)
		if !ok || got != want {
			t.Errorf("%s: got %q, want %q", name, got, want)
		}
	}
	if _, ok := Detect(probe(core.FromPath("x.bin")), DetectionOrder); ok {
		t.Error("unknown suffix should not be claimed")
	}
}

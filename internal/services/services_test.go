package services

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markdave123-py/Extracta/internal/core"
	db "github.com/markdave123-py/Extracta/internal/core/database"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
	"github.com/markdave123-py/Extracta/internal/core/ingestion_engine"
	"github.com/markdave123-py/Extracta/internal/core/recovery"
	"github.com/markdave123-py/Extracta/internal/core/registry"
	"github.com/markdave123-py/Extracta/internal/core/source"
	"github.com/markdave123-py/Extracta/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	errs.SetLogger(quiet)
}

// fakeEngine yields texts, then fails with err when set.
type fakeEngine struct {
	name  string
	mode  core.FailMode
	ext   string
	texts []string
	err   error
	calls *int32
}

func (f fakeEngine) Name() string        { return f.name }
func (f fakeEngine) Mode() core.FailMode { return f.mode }
func (f fakeEngine) Supports(src core.Source) bool {
	return f.ext == "" || src.Ext() == f.ext
}
func (f fakeEngine) Elements(context.Context, core.Source) iter.Seq2[core.Element, error] {
	if f.calls != nil {
		atomic.AddInt32(f.calls, 1)
	}
	return func(yield func(core.Element, error) bool) {
		for i, t := range f.texts {
			if !yield(core.Element{Page: core.PageNum(i + 1), Type: core.TypeNarrativeText, Text: t}, nil) {
				return
			}
		}
		if f.err != nil {
			yield(core.Element{}, f.err)
		}
	}
}

func factories(engines ...fakeEngine) registry.Factories {
	out := registry.Factories{}
	for _, e := range engines {
		out[e.name] = func() (core.Extractor, error) { return e, nil }
	}
	return out
}

func newService(t *testing.T, rec *recovery.Manager, runs db.RunStore, engines ...fakeEngine) *ExtractionService {
	t.Helper()
	reg := registry.New(factories(engines...), quiet)
	res := source.NewResolver(fetch.New(fetch.Config{}, quiet), nil, quiet, source.Options{})
	svc := NewExtractionService(reg, res, rec, runs, quiet)
	svc.order = []string{"first", "second", "hard", "backup"}
	return svc
}

func collect(seq iter.Seq2[core.Element, error]) ([]core.Element, []error) {
	var els []core.Element
	var errList []error
	for el, err := range seq {
		if err != nil {
			errList = append(errList, err)
			continue
		}
		els = append(els, el)
	}
	return els, errList
}

func TestStream_TagsSourceAndRecordsRun(t *testing.T) {
	runs := db.NewMemoryStore()
	svc := newService(t, nil, runs, fakeEngine{name: "first", texts: []string{"a", "b"}})

	els, errList := collect(svc.Stream(context.Background(), Request{
		Source: core.FromBytes("report.txt", []byte("x"), ""),
		Engine: "first",
	}))
	if len(errList) != 0 || len(els) != 2 {
		t.Fatalf("got %d elements, errors %v", len(els), errList)
	}
	for _, el := range els {
		if el.Extras[SourceKey] != "report.txt" {
			t.Errorf("source tag = %v", el.Extras[SourceKey])
		}
	}

	list, _ := runs.ListRuns(context.Background(), 10)
	if len(list) != 1 {
		t.Fatalf("runs = %d", len(list))
	}
	run := list[0]
	if run.Status != models.RunSucceeded || run.Elements != 2 || run.Engine != "first" || run.FinishedAt == nil {
		t.Errorf("run = %+v", run)
	}
}

func TestStream_DetectsEngine(t *testing.T) {
	svc := newService(t, nil, nil,
		fakeEngine{name: "first", ext: ".pdf", texts: []string{"pdf"}},
		fakeEngine{name: "second", ext: ".txt", texts: []string{"txt"}},
	)

	els, _ := collect(svc.Stream(context.Background(), Request{Source: core.FromBytes("notes.txt", []byte("x"), "")}))
	if len(els) != 1 || els[0].Text != "txt" {
		t.Fatalf("got %+v", els)
	}

	_, errList := collect(svc.Stream(context.Background(), Request{Source: core.FromBytes("photo.bmp", []byte("x"), "")}))
	if len(errList) != 1 || errs.CodeOf(errList[0]) != errs.CodeUnsupportedFormat {
		t.Fatalf("want UNSUPPORTED_FORMAT, got %v", errList)
	}
}

func TestStream_UnknownEngine(t *testing.T) {
	svc := newService(t, nil, nil, fakeEngine{name: "first"})
	_, errList := collect(svc.Stream(context.Background(), Request{Source: core.FromBytes("a.txt", nil, ""), Engine: "nope"}))
	if len(errList) != 1 || errs.CodeOf(errList[0]) != errs.CodeEngineNotFound {
		t.Fatalf("got %v", errList)
	}
}

func TestStream_FallbackRecoversEmptyFailure(t *testing.T) {
	reporter := recovery.NewReporter()
	runs := db.NewMemoryStore()
	engines := []fakeEngine{
		{name: "hard", mode: core.FailHard, err: errors.New("parser exploded")},
		{name: "backup", texts: []string{"rescued"}},
	}
	reg := registry.New(factories(engines...), quiet)
	mgr := recovery.NewManager(reporter, quiet, &recovery.FallbackEngine{Engines: reg, Keys: []string{"backup"}, Logger: quiet})
	svc := NewExtractionService(reg, source.NewResolver(nil, nil, quiet, source.Options{}), mgr, runs, quiet)

	els, errList := collect(svc.Stream(context.Background(), Request{Source: core.FromBytes("a.bin", []byte("x"), ""), Engine: "hard"}))
	if len(errList) != 0 || len(els) != 1 || els[0].Text != "rescued" {
		t.Fatalf("got %+v, %v", els, errList)
	}
	if els[0].Extras[SourceKey] != "a.bin" {
		t.Error("recovered elements must be tagged too")
	}
	if reporter.Len() != 1 {
		t.Errorf("reporter recorded %d errors", reporter.Len())
	}
	list, _ := runs.ListRuns(context.Background(), 1)
	if list[0].Status != models.RunRecovered {
		t.Errorf("status = %s", list[0].Status)
	}
}

func TestStream_PartialOutputSkipsRecovery(t *testing.T) {
	var backupCalls int32
	engines := []fakeEngine{
		{name: "hard", mode: core.FailHard, texts: []string{"one"}, err: errors.New("late failure")},
		{name: "backup", texts: []string{"dup"}, calls: &backupCalls},
	}
	reg := registry.New(factories(engines...), quiet)
	mgr := recovery.NewManager(nil, quiet, &recovery.FallbackEngine{Engines: reg, Keys: []string{"backup"}, Logger: quiet})
	runs := db.NewMemoryStore()
	svc := NewExtractionService(reg, source.NewResolver(nil, nil, quiet, source.Options{}), mgr, runs, quiet)

	els, errList := collect(svc.Stream(context.Background(), Request{Source: core.FromBytes("a.bin", []byte("x"), ""), Engine: "hard"}))
	if len(els) != 1 || len(errList) != 1 {
		t.Fatalf("got %d elements, %d errors", len(els), len(errList))
	}
	if errs.CodeOf(errList[0]) != errs.CodeEngineExecutionFailed {
		t.Errorf("code = %s", errs.CodeOf(errList[0]))
	}
	if backupCalls != 0 {
		t.Error("fallback must not run after elements were delivered")
	}
	list, _ := runs.ListRuns(context.Background(), 1)
	if list[0].Status != models.RunFailed || list[0].ErrorCode != string(errs.CodeEngineExecutionFailed) || list[0].Elements != 1 {
		t.Errorf("run = %+v", list[0])
	}
}

func TestStream_ConsumerStopFinishesRun(t *testing.T) {
	runs := db.NewMemoryStore()
	svc := newService(t, nil, runs, fakeEngine{name: "first", texts: []string{"a", "b", "c"}})
	for range svc.Stream(context.Background(), Request{Source: core.FromBytes("a.txt", []byte("x"), ""), Engine: "first"}) {
		break
	}
	list, _ := runs.ListRuns(context.Background(), 1)
	if list[0].Status != models.RunSucceeded || list[0].Elements != 1 {
		t.Errorf("run = %+v", list[0])
	}
}

func TestEngines_DoesNotConstruct(t *testing.T) {
	svc := newService(t, nil, nil, fakeEngine{name: "first"}, fakeEngine{name: "hard", mode: core.FailHard})
	for _, info := range svc.Engines() {
		if info.Loaded || info.Mode != "" {
			t.Errorf("%s reported as loaded before use", info.Key)
		}
	}
	for range svc.Stream(context.Background(), Request{Source: core.FromBytes("a", []byte("x"), ""), Engine: "hard"}) {
	}
	for _, info := range svc.Engines() {
		if info.Key == "hard" && (!info.Loaded || info.Mode != "fail-hard") {
			t.Errorf("hard = %+v", info)
		}
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func textService(t *testing.T) *ExtractionService {
	t.Helper()
	reg := registry.New(registry.Factories{
		"text": func() (core.Extractor, error) { return ingestion_engine.NewTextExtractor(nil), nil },
	}, quiet)
	svc := NewExtractionService(reg, source.NewResolver(nil, nil, quiet, source.Options{}), nil, nil, quiet)
	svc.order = []string{"text"}
	return svc
}

func TestExtractSource_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.txt":  "Alpha paragraph.\n",
		"b.md":   "Beta paragraph.\n",
		"c.bin":  "skipped",
		"d.html": "<p>no engine</p>",
	})
	svc := textService(t)

	var buf bytes.Buffer
	out := NewResultWriter(&buf)
	if err := out.Drain(svc.ExtractSource(context.Background(), dir, "")); err != nil {
		t.Fatal(err)
	}
	if out.Documents() != 2 {
		t.Errorf("documents = %d", out.Documents())
	}
	if out.Errors != 1 {
		t.Errorf("errors = %d, want the html file reported as unsupported", out.Errors)
	}
	if !strings.Contains(buf.String(), `"code":"UNSUPPORTED_FORMAT"`) {
		t.Errorf("missing error line:\n%s", buf.String())
	}
}

func TestExtractSource_MissingPath(t *testing.T) {
	svc := textService(t)
	_, errList := collect(svc.ExtractSource(context.Background(), filepath.Join(t.TempDir(), "nope"), ""))
	if len(errList) != 1 || errs.CodeOf(errList[0]) != errs.CodeFileNotFound {
		t.Fatalf("got %v", errList)
	}
}

func TestJobService_WritesResults(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "First.\n\nSecond.\n"})
	results := filepath.Join(t.TempDir(), "out")

	jobs := NewJobService(textService(t), nil, results, 2, quiet)
	ctx, cancel := context.WithCancel(context.Background())
	jobs.Start(ctx)

	job, err := jobs.Enqueue(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != models.JobQueued {
		t.Errorf("status = %s", job.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		job, _ = jobs.Get(job.ID)
		if job.Status == models.JobDone || job.Status == models.JobFailed || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := jobs.Wait(); err != nil {
		t.Fatal(err)
	}

	if job.Status != models.JobDone {
		t.Fatalf("job = %+v", job)
	}
	if job.ResultURL != filepath.Join(results, job.ID+".ndjson") {
		t.Errorf("result url = %s", job.ResultURL)
	}
	f, err := os.Open(job.ResultURL)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	for sc := bufio.NewScanner(f); sc.Scan(); {
		lines++
	}
	if lines != job.Elements || job.Elements == 0 || job.Documents != 1 {
		t.Errorf("lines = %d, job = %+v", lines, job)
	}
}

func TestJobService_QueueFull(t *testing.T) {
	jobs := NewJobService(textService(t), nil, t.TempDir(), 1, quiet)
	for i := 0; i < defaultQueueSize; i++ {
		if _, err := jobs.Enqueue(fmt.Sprint(i), ""); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if _, err := jobs.Enqueue("overflow", ""); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	if _, ok := jobs.Get("missing"); ok {
		t.Error("unknown job reported")
	}
}

type memObjects struct {
	keys []string
	data map[string][]byte
}

func (m *memObjects) UploadFile(_ context.Context, bucket, key string, r io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.keys = append(m.keys, key)
	m.data[key] = b
	return "s3://" + bucket + "/" + key, nil
}

func (m *memObjects) ListObjects(context.Context, string, string) ([]core.ObjectInfo, error) {
	return nil, nil
}

func (m *memObjects) GetObjectReader(_ context.Context, _, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data[key])), nil
}

func TestArchiveService(t *testing.T) {
	if NewArchiveService(nil, "b") != nil || NewArchiveService(&memObjects{}, "") != nil {
		t.Fatal("archive without storage must be nil")
	}
	var none *ArchiveService
	if url, err := none.Archive(context.Background(), core.FromBytes("a", []byte("x"), "")); url != "" || err != nil {
		t.Errorf("nil archive: %q, %v", url, err)
	}

	objs := &memObjects{}
	a := NewArchiveService(objs, "docs")
	a.now = func() time.Time { return time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC) }

	url, err := a.Archive(context.Background(), core.FromBytes("../my report.pdf", []byte("%PDF-"), ""))
	if err != nil {
		t.Fatal(err)
	}
	if len(objs.keys) != 1 {
		t.Fatalf("keys = %v", objs.keys)
	}
	key := objs.keys[0]
	if !strings.HasPrefix(key, "uploads/2024/03/09/") || !strings.HasSuffix(key, "/my_report.pdf") {
		t.Errorf("key = %s", key)
	}
	if url != "s3://docs/"+key {
		t.Errorf("url = %s", url)
	}
}

func TestErrorBody_HidesForeignErrors(t *testing.T) {
	body := ErrorBody(errors.New("dial tcp 10.0.0.3:5432: secret"))
	if body.Error != "internal error" || body.Code != string(errs.CodeUnknown) {
		t.Errorf("body = %+v", body)
	}
	pe := errs.NewNetworkError("download failed", errs.CodeHTTPError, errs.WithCause(errors.New("internal detail")))
	body = ErrorBody(pe)
	if body.Error != "download failed" || body.Kind != string(errs.KindNetwork) {
		t.Errorf("body = %+v", body)
	}
}

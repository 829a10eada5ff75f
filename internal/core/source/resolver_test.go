package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
	"github.com/markdave123-py/Extracta/internal/core/retry"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func init() {
	errs.SetLogger(quiet)
}

func drain(t *testing.T, r *Resolver, arg string) ([]core.Source, []error) {
	t.Helper()
	var (
		srcs []core.Source
		errl []error
	)
	for src, err := range r.Resolve(context.Background(), arg) {
		if err != nil {
			errl = append(errl, err)
			continue
		}
		srcs = append(srcs, src)
	}
	return srcs, errl
}

func labels(srcs []core.Source) []string {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.Label)
	}
	return out
}

func write(t *testing.T, path string, data string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), perm); err != nil {
		t.Fatal(err)
	}
}

func TestResolve_SingleFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.bin")
	write(t, p, "x", 0o644)

	r := NewResolver(nil, nil, quiet, Options{})
	srcs, errl := drain(t, r, p)
	if len(errl) != 0 || len(srcs) != 1 || srcs[0].Path != p {
		t.Fatalf("got %v, %v", labels(srcs), errl)
	}
}

func TestResolve_DirectoryFiltersBySuffix(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "deep", "nested", "report.pdf"), "%PDF-1.4", 0o644)
	for i := 0; i < 50; i++ {
		// Unreadable: opening any of these would fail.
		write(t, filepath.Join(dir, fmt.Sprintf("blob-%02d.bin", i)), "junk", 0o000)
	}
	write(t, filepath.Join(dir, "deep", "image.PNG"), "png", 0o000)

	r := NewResolver(nil, nil, quiet, Options{})
	srcs, errl := drain(t, r, dir)
	if len(errl) != 0 {
		t.Fatalf("errors: %v", errl)
	}
	want := []string{filepath.Join(dir, "deep", "nested", "report.pdf")}
	if got := labels(srcs); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_DirectoryOrderIsLexical(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.md", "sub/c.html", "C.PDF"} {
		write(t, filepath.Join(dir, name), "x", 0o644)
	}
	r := NewResolver(nil, nil, quiet, Options{})
	srcs, _ := drain(t, r, dir)
	want := []string{
		filepath.Join(dir, "C.PDF"),
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "b.txt"),
		filepath.Join(dir, "sub", "c.html"),
	}
	if got := labels(srcs); !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolve_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "x.exe"), "x", 0o644)
	r := NewResolver(nil, nil, quiet, Options{})
	srcs, errl := drain(t, r, dir)
	if len(srcs) != 0 || len(errl) != 0 {
		t.Errorf("got %v, %v", labels(srcs), errl)
	}
}

func TestResolve_MissingPath(t *testing.T) {
	r := NewResolver(nil, nil, quiet, Options{})
	_, errl := drain(t, r, filepath.Join(t.TempDir(), "nope.pdf"))
	if len(errl) != 1 || errs.CodeOf(errl[0]) != errs.CodeFileNotFound {
		t.Fatalf("want FILE_NOT_FOUND, got %v", errl)
	}
}

func TestResolve_EarlyStop(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		write(t, filepath.Join(dir, name), "x", 0o644)
	}
	r := NewResolver(nil, nil, quiet, Options{})
	n := 0
	for range r.Resolve(context.Background(), dir) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("iterated %d times after break", n)
	}
}

func TestResolve_URLIsFailHard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/doc.txt" {
			_, _ = io.WriteString(w, "hello")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := NewResolver(fetch.New(fetch.Config{}, quiet), nil, quiet, Options{})

	srcs, errl := drain(t, r, srv.URL+"/doc.txt")
	if len(errl) != 0 || len(srcs) != 1 || string(srcs[0].Data) != "hello" || srcs[0].Ext() != ".txt" {
		t.Fatalf("got %+v, %v", srcs, errl)
	}

	_, errl = drain(t, r, srv.URL+"/missing.pdf")
	if len(errl) != 1 {
		t.Fatalf("404 must surface, got %v", errl)
	}
	pe, ok := errs.As(errl[0])
	if !ok || pe.Code != errs.CodeHTTPError || pe.Context.StatusCode != http.StatusNotFound {
		t.Errorf("want HTTP_ERROR 404, got %v", errl[0])
	}
}

func TestResolve_URLRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "finally")
	}))
	defer srv.Close()

	var slept []time.Duration
	policy := retry.Policy{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		OnlyRecoverable: true,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	r := NewResolver(fetch.New(fetch.Config{}, quiet), nil, quiet, Options{Retry: policy})

	srcs, errl := drain(t, r, srv.URL+"/doc.txt")
	if len(errl) != 0 || len(srcs) != 1 || string(srcs[0].Data) != "finally" {
		t.Fatalf("got %+v, %v", srcs, errl)
	}
	if calls.Load() != 3 || !reflect.DeepEqual(slept, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("calls = %d, slept = %v", calls.Load(), slept)
	}
}

func TestResolve_URLEmptyBodyIsMaterialised(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	r := NewResolver(fetch.New(fetch.Config{}, quiet), nil, quiet, Options{})
	srcs, errl := drain(t, r, srv.URL+"/empty.txt")
	if len(errl) != 0 || len(srcs) != 1 {
		t.Fatalf("got %+v, %v", srcs, errl)
	}
	if srcs[0].Data == nil || len(srcs[0].Data) != 0 {
		t.Errorf("empty body must resolve to non-nil empty data, got %#v", srcs[0].Data)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

type memObjects struct {
	objects map[string][]byte
	gets    []string
}

func (m *memObjects) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.objects[bucket+"/"+key] = b
	return "mem://" + bucket + "/" + key, nil
}

func (m *memObjects) ListObjects(_ context.Context, bucket, prefix string) ([]core.ObjectInfo, error) {
	if bucket == "broken" {
		return nil, errors.New("access denied")
	}
	var out []core.ObjectInfo
	for _, k := range []string{"docs/a.pdf", "docs/b.exe", "docs/big.txt", "docs/c.md", "other/d.txt"} {
		if data, ok := m.objects[bucket+"/"+k]; ok && len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, core.ObjectInfo{Key: k, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memObjects) GetObjectReader(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.gets = append(m.gets, key)
	return io.NopCloser(bytes.NewReader(m.objects[bucket+"/"+key])), nil
}

func TestResolve_Bucket(t *testing.T) {
	store := &memObjects{objects: map[string][]byte{
		"b/docs/a.pdf":   []byte("%PDF"),
		"b/docs/b.exe":   []byte("MZ"),
		"b/docs/big.txt": bytes.Repeat([]byte("x"), 64),
		"b/docs/c.md":    []byte("# hi"),
		"b/other/d.txt":  []byte("no"),
	}}
	r := NewResolver(nil, store, quiet, Options{MaxObjectBytes: 32})

	srcs, errl := drain(t, r, "s3://b/docs/")
	if got, want := labels(srcs), []string{"s3://b/docs/a.pdf", "s3://b/docs/c.md"}; !reflect.DeepEqual(got, want) {
		t.Errorf("labels = %v, want %v", got, want)
	}
	if len(errl) != 1 || errs.CodeOf(errl[0]) != errs.CodeDownloadSizeExceeded {
		t.Errorf("oversized object: %v", errl)
	}
	if !reflect.DeepEqual(store.gets, []string{"docs/a.pdf", "docs/c.md"}) {
		t.Errorf("downloaded %v; filtered or oversized objects must not be fetched", store.gets)
	}
	if len(srcs) > 0 && srcs[0].ContentType() != "application/pdf" {
		t.Errorf("content type derived from key: %q", srcs[0].ContentType())
	}
}

func TestResolve_BucketErrors(t *testing.T) {
	r := NewResolver(nil, nil, quiet, Options{})
	if _, errl := drain(t, r, "s3://b/docs"); len(errl) != 1 || errs.CodeOf(errl[0]) != errs.CodeConfiguration {
		t.Errorf("no client: %v", errl)
	}

	r = NewResolver(nil, &memObjects{objects: map[string][]byte{}}, quiet, Options{})
	if _, errl := drain(t, r, "s3:///nobucket"); len(errl) != 1 || errs.CodeOf(errl[0]) != errs.CodeInvalidInput {
		t.Errorf("bad url: %v", errl)
	}
	if _, errl := drain(t, r, "s3://broken/x"); len(errl) != 1 || errs.CodeOf(errl[0]) != errs.CodeNetworkConnectionFailed {
		t.Errorf("list failure: %v", errl)
	}
}

func TestParseBucketURL(t *testing.T) {
	cases := []struct {
		in, bucket, prefix string
		ok                 bool
	}{
		{"s3://b", "b", "", true},
		{"s3://b/", "b", "", true},
		{"s3://b/p/q", "b", "p/q", true},
		{"s3:///p", "", "", false},
		{"gs://b/p", "", "", false},
	}
	for _, tc := range cases {
		b, p, err := ParseBucketURL(tc.in)
		if (err == nil) != tc.ok || b != tc.bucket || p != tc.prefix {
			t.Errorf("ParseBucketURL(%q) = %q, %q, %v", tc.in, b, p, err)
		}
	}
}

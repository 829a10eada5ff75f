// Package source turns a command-line style argument into a lazy sequence of
// documents: one file, every supported file under a directory, one remote
// URL, or every supported object under an s3:// prefix.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
	"github.com/markdave123-py/Extracta/internal/core/retry"
)

// DefaultSuffixes is the allow-list applied to directory and bucket listings.
var DefaultSuffixes = []string{
	".pdf", ".docx", ".odt", ".pages", ".rtf", ".xml",
	".html", ".htm", ".xlsx", ".txt", ".md", ".ndjson", ".jsonl",
}

// Options tunes a Resolver. Zero values fall back to defaults.
type Options struct {
	Suffixes []string
	// MaxObjectBytes bounds each object read from storage. Defaults to the
	// fetcher's download limit.
	MaxObjectBytes int64
	// Retry wraps URL downloads. The zero policy never retries.
	Retry retry.Policy
}

// Resolver expands arguments into sources. Remote URLs are fetched fail-hard
// so that a missing document is reported to the caller.
type Resolver struct {
	fetcher  *fetch.Fetcher
	objects  core.ObjectClient
	logger   *slog.Logger
	suffixes map[string]bool
	maxObj   int64
	retry    retry.Policy
}

// NewResolver wires a resolver. objects may be nil when s3:// arguments are
// not needed.
func NewResolver(fetcher *fetch.Fetcher, objects core.ObjectClient, logger *slog.Logger, opts Options) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	suffixes := opts.Suffixes
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}
	allow := make(map[string]bool, len(suffixes))
	for _, s := range suffixes {
		allow[strings.ToLower(s)] = true
	}
	maxObj := opts.MaxObjectBytes
	if maxObj <= 0 {
		maxObj = fetch.DefaultMaxBytes
		if fetcher != nil {
			maxObj = fetcher.MaxBytes()
		}
	}
	return &Resolver{
		fetcher:  fetcher,
		objects:  objects,
		logger:   logger.With("component", "source_resolver"),
		suffixes: allow,
		maxObj:   maxObj,
		retry:    opts.Retry,
	}
}

// Allowed reports whether name passes the suffix allow-list.
func (r *Resolver) Allowed(name string) bool {
	return r.suffixes[strings.ToLower(filepath.Ext(name))]
}

// Resolve yields the sources named by arg. Errors are yielded in place; the
// caller decides whether to keep iterating.
func (r *Resolver) Resolve(ctx context.Context, arg string) iter.Seq2[core.Source, error] {
	switch {
	case core.IsHTTPURL(arg):
		return r.resolveURL(ctx, arg)
	case strings.HasPrefix(arg, "s3://"):
		return r.resolveBucket(ctx, arg)
	default:
		return r.resolvePath(ctx, arg)
	}
}

func (r *Resolver) resolveURL(ctx context.Context, u string) iter.Seq2[core.Source, error] {
	return func(yield func(core.Source, error) bool) {
		if r.fetcher == nil {
			yield(core.Source{}, errs.New("no fetcher configured", errs.CodeConfiguration,
				errs.WithFields(map[string]any{"url": u})))
			return
		}
		data, err := retry.Do(ctx, r.retry, func(ctx context.Context) ([]byte, error) {
			return r.fetcher.Fetch(ctx, u, fetch.FailHard)
		})
		if err != nil {
			yield(core.Source{}, err)
			return
		}
		yield(core.Source{Label: u, URL: u, Data: data}, nil)
	}
}

func (r *Resolver) resolvePath(ctx context.Context, p string) iter.Seq2[core.Source, error] {
	return func(yield func(core.Source, error) bool) {
		info, err := os.Stat(p)
		if err != nil {
			yield(core.Source{}, statError(p, err))
			return
		}
		if !info.IsDir() {
			yield(core.FromPath(p), nil)
			return
		}

		skipped := 0
		walkErr := filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				if !yield(core.Source{}, statError(fp, err)) {
					return fs.SkipAll
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			if !r.Allowed(d.Name()) {
				skipped++
				return nil
			}
			if !yield(core.FromPath(fp), nil) {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			yield(core.Source{}, fmt.Errorf("walk %s: %w", p, walkErr))
			return
		}
		r.logger.Debug("directory resolved", "root", p, "skipped", skipped)
	}
}

func statError(p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errs.NewExtractionError("file not found", errs.CodeFileNotFound,
			errs.WithCause(err),
			errs.WithFields(map[string]any{"file_path": p}),
			errs.WithSuggestion("check the path and try again"),
		)
	}
	return errs.New("cannot read path", errs.CodeInvalidInput,
		errs.WithCause(err),
		errs.WithFields(map[string]any{"file_path": p}),
	)
}

// ParseBucketURL splits s3://bucket/prefix.
func ParseBucketURL(raw string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", raw)
	}
	return bucket, prefix, nil
}

func (r *Resolver) resolveBucket(ctx context.Context, raw string) iter.Seq2[core.Source, error] {
	return func(yield func(core.Source, error) bool) {
		bucket, prefix, err := ParseBucketURL(raw)
		if err != nil {
			yield(core.Source{}, errs.NewValidationError("invalid bucket url", errs.CodeInvalidInput,
				errs.WithCause(err), errs.WithFields(map[string]any{"url": raw})))
			return
		}
		if r.objects == nil {
			yield(core.Source{}, errs.New("object storage is not configured", errs.CodeConfiguration,
				errs.WithFields(map[string]any{"url": raw}),
				errs.WithSuggestion("set AWS_ACCESS_KEY and AWS_SECRET_KEY")))
			return
		}

		objs, err := r.objects.ListObjects(ctx, bucket, prefix)
		if err != nil {
			yield(core.Source{}, errs.NewNetworkError("listing objects failed", errs.CodeNetworkConnectionFailed,
				errs.WithCause(err), errs.WithFields(map[string]any{"url": raw})))
			return
		}

		for _, obj := range objs {
			if strings.HasSuffix(obj.Key, "/") || !r.Allowed(path.Base(obj.Key)) {
				continue
			}
			label := "s3://" + bucket + "/" + obj.Key
			if obj.Size > r.maxObj {
				if !yield(core.Source{}, sizeError(label, obj.Size, r.maxObj)) {
					return
				}
				continue
			}
			data, err := r.readObject(ctx, bucket, obj.Key)
			if err != nil {
				if !yield(core.Source{}, err) {
					return
				}
				continue
			}
			if !yield(core.FromBytes(label, data, ""), nil) {
				return
			}
		}
	}
}

func (r *Resolver) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	label := "s3://" + bucket + "/" + key
	rc, err := r.objects.GetObjectReader(ctx, bucket, key)
	if err != nil {
		return nil, errs.NewNetworkError("object download failed", errs.CodeNetworkConnectionFailed,
			errs.WithCause(err), errs.WithFields(map[string]any{"url": label}))
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, r.maxObj+1))
	if err != nil {
		return nil, errs.NewNetworkError("object download failed", errs.CodeNetworkConnectionFailed,
			errs.WithCause(err), errs.WithFields(map[string]any{"url": label}))
	}
	if int64(len(data)) > r.maxObj {
		return nil, sizeError(label, int64(len(data)), r.maxObj)
	}
	return data, nil
}

func sizeError(label string, size, limit int64) error {
	return errs.NewNetworkError("object exceeds download limit", errs.CodeDownloadSizeExceeded,
		errs.WithFields(map[string]any{"url": label, "size_bytes": size, "max_bytes": limit}))
}

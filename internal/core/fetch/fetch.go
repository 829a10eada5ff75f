// Package fetch downloads remote documents under a size and time budget.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/markdave123-py/Extracta/internal/core/errs"
	"github.com/markdave123-py/Extracta/internal/metrics"
)

const (
	DefaultMaxBytes  = 20 << 20
	DefaultTimeout   = 30 * time.Second
	DefaultChunkSize = 16 << 10
)

// Mode selects how failures cross the Fetch boundary.
type Mode int

const (
	// FailSoft logs a warning and returns nil bytes with a nil error.
	FailSoft Mode = iota
	// FailHard returns a typed network error.
	FailHard
)

func (m Mode) String() string {
	if m == FailHard {
		return "hard"
	}
	return "soft"
}

// Config bounds every transfer made by a Fetcher.
type Config struct {
	MaxBytes  int64
	Timeout   time.Duration
	ChunkSize int
	Client    *http.Client
	UserAgent string
}

// Fetcher performs bounded downloads. It is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New applies defaults to cfg and returns a Fetcher.
func New(cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "extracta/1.0"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{cfg: cfg, client: client, logger: logger.With("component", "fetch")}
}

// MaxBytes returns the configured size ceiling.
func (f *Fetcher) MaxBytes() int64 { return f.cfg.MaxBytes }

// failure is the internal, unlogged description of a failed transfer. It is
// turned into a ProcessingError only in fail-hard mode.
type failure struct {
	code        errs.ErrorCode
	msg         string
	status      int
	cause       error
	recoverable bool
	fields      map[string]any
}

// Fetch downloads rawURL. The body is read in ChunkSize pieces and the
// transfer aborts as soon as either the declared Content-Length or the bytes
// read so far exceed MaxBytes; the buffer never holds more than MaxBytes plus
// one chunk. The whole exchange shares one Timeout budget.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, mode Mode) ([]byte, error) {
	start := time.Now()
	data, fl := f.fetch(ctx, rawURL)
	metrics.FetchLatency.Observe(time.Since(start).Seconds())
	if fl == nil {
		metrics.FetchBytes.Add(float64(len(data)))
		return data, nil
	}

	metrics.FetchFailures.WithLabelValues(string(fl.code), mode.String()).Inc()
	if mode == FailSoft {
		attrs := []any{"url", rawURL, "code", string(fl.code), "reason", fl.msg}
		if fl.status != 0 {
			attrs = append(attrs, "status_code", fl.status)
		}
		if fl.cause != nil {
			attrs = append(attrs, "error", fl.cause)
		}
		f.logger.Warn("download failed", attrs...)
		return nil, nil
	}
	return nil, f.toError(rawURL, fl)
}

func (f *Fetcher) toError(rawURL string, fl *failure) error {
	ectx := errs.NewContext("fetch", "fetch")
	ectx.URL = rawURL
	ectx.StatusCode = fl.status
	ectx.Update(fl.fields)
	opts := []errs.Option{errs.WithContext(ectx), errs.Recoverable(fl.recoverable)}
	if fl.cause != nil {
		opts = append(opts, errs.WithCause(fl.cause))
	}
	if fl.code == errs.CodeInvalidInput {
		return errs.NewValidationError(fl.msg, fl.code, opts...)
	}
	return errs.NewNetworkError(fl.msg, fl.code, opts...)
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, *failure) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &failure{code: errs.CodeInvalidInput, msg: "url must be absolute http or https", cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &failure{code: errs.CodeInvalidInput, msg: "build request", cause: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err, f.cfg.Timeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &failure{
			code:        errs.CodeHTTPError,
			msg:         fmt.Sprintf("unexpected status %d", resp.StatusCode),
			status:      resp.StatusCode,
			recoverable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if declared := declaredLength(resp); declared > f.cfg.MaxBytes {
		return nil, &failure{
			code:   errs.CodeDownloadSizeExceeded,
			msg:    "declared content length exceeds limit",
			fields: map[string]any{"content_length": declared, "max_bytes": f.cfg.MaxBytes},
		}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 && resp.ContentLength <= f.cfg.MaxBytes {
		buf.Grow(int(resp.ContentLength))
	}
	chunk := make([]byte, f.cfg.ChunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > f.cfg.MaxBytes {
				return nil, &failure{
					code:   errs.CodeDownloadSizeExceeded,
					msg:    "download exceeds size limit",
					fields: map[string]any{"bytes_read": buf.Len(), "max_bytes": f.cfg.MaxBytes},
				}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, classifyTransportError(ctx, rerr, f.cfg.Timeout)
		}
	}
	if buf.Len() == 0 {
		// nil is reserved for a fail-soft miss.
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}

func declaredLength(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

func classifyTransportError(ctx context.Context, err error, budget time.Duration) *failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &failure{
			code:        errs.CodeNetworkTimeout,
			msg:         fmt.Sprintf("transfer exceeded %s budget", budget),
			cause:       err,
			recoverable: true,
		}
	}
	return &failure{
		code:        errs.CodeNetworkConnectionFailed,
		msg:         "connection failed",
		cause:       err,
		recoverable: true,
	}
}

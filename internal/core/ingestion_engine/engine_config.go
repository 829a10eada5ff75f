package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/markdave123-py/Extracta/internal/core"
	"github.com/markdave123-py/Extracta/internal/core/fetch"
)

// DefaultMaxFileBytes caps how much of a local file an engine loads.
const DefaultMaxFileBytes = 256 << 20

// EngineDeps carries the collaborators engines need. Engines hold no state
// beyond these read-only values, so one instance serves concurrent calls.
//
// Fetcher:       remote fetch service for URL sources (always used fail-soft).
// NewModel:      constructor for the hosted document model (gemini engine).
// MaxFileBytes:  refuse local files larger than this.
// TargetTokens:  approximate size of the paragraph blocks built from line-oriented output.
type EngineDeps struct {
	Fetcher      *fetch.Fetcher
	NewModel     func() (core.DocumentModel, error)
	MaxFileBytes int64
	TargetTokens int
	Logger       *slog.Logger
}

func (d *EngineDeps) logger() *slog.Logger {
	if d == nil || d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *EngineDeps) maxFileBytes() int64 {
	if d == nil || d.MaxFileBytes <= 0 {
		return DefaultMaxFileBytes
	}
	return d.MaxFileBytes
}

func (d *EngineDeps) targetTokens() int {
	if d == nil || d.TargetTokens <= 0 {
		return DefaultTargetTokens
	}
	return d.TargetTokens
}

// errAbsent marks a URL source whose download was skipped in fail-soft mode.
var errAbsent = fmt.Errorf("source not available")

// loadBytes materialises src. URL sources are fetched fail-soft; a failed
// download returns errAbsent so engines can end the stream without an error.
func (d *EngineDeps) loadBytes(ctx context.Context, src core.Source) ([]byte, error) {
	switch {
	case src.Data != nil:
		return src.Data, nil
	case src.URL != "":
		if d == nil || d.Fetcher == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", src.URL)
		}
		data, err := d.Fetcher.Fetch(ctx, src.URL, fetch.FailSoft)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, errAbsent
		}
		return data, nil
	case src.Path != "":
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src.Path, err)
		}
		defer f.Close()
		limit := d.maxFileBytes()
		data, err := io.ReadAll(io.LimitReader(f, limit+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src.Path, err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("%s exceeds %d bytes", src.Path, limit)
		}
		return data, nil
	default:
		return []byte{}, nil
	}
}

// openStream returns a reader over src without loading local files whole.
func (d *EngineDeps) openStream(ctx context.Context, src core.Source) (io.ReadCloser, error) {
	if src.Path != "" && src.Data == nil {
		f, err := os.Open(src.Path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", src.Path, err)
		}
		return f, nil
	}
	data, err := d.loadBytes(ctx, src)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

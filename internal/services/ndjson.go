package services

import (
	"encoding/json"
	"io"
	"iter"

	"github.com/markdave123-py/Extracta/internal/core"
)

// ResultWriter writes a stream as NDJSON: one element per line, failures as
// lines carrying an "error" key.
type ResultWriter struct {
	enc      *json.Encoder
	sources  map[string]struct{}
	Elements int
	Errors   int
}

func NewResultWriter(w io.Writer) *ResultWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &ResultWriter{enc: enc, sources: map[string]struct{}{}}
}

func (r *ResultWriter) Element(el core.Element) error {
	if label, ok := el.Extras[SourceKey].(string); ok {
		r.sources[label] = struct{}{}
	}
	r.Elements++
	return r.enc.Encode(el)
}

func (r *ResultWriter) Error(err error) error {
	r.Errors++
	return r.enc.Encode(ErrorBody(err))
}

// Documents is the number of distinct sources seen in written elements.
func (r *ResultWriter) Documents() int {
	return len(r.sources)
}

// Drain writes seq to the end. Only write failures are returned.
func (r *ResultWriter) Drain(seq iter.Seq2[core.Element, error]) error {
	for el, err := range seq {
		var werr error
		if err != nil {
			werr = r.Error(err)
		} else {
			werr = r.Element(el)
		}
		if werr != nil {
			return werr
		}
	}
	return nil
}

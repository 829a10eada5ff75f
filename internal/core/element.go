package core

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/markdave123-py/Extracta/internal/core/errs"
)

// Element types shared by every engine.
const (
	TypeTitle         = "Title"
	TypeNarrativeText = "NarrativeText"
	TypeListItem      = "ListItem"
	TypeTable         = "Table"
	TypeText          = "Text"
	TypeHeader        = "Header"
	TypeFooter        = "Footer"
)

// IsNarrative reports whether elements of type t must carry non-empty text.
func IsNarrative(t string) bool {
	switch t {
	case TypeTitle, TypeNarrativeText, TypeListItem:
		return true
	}
	return false
}

// Element is one extracted block. Engines build it once and never touch it
// after yielding; consumers must treat Extras as read-only.
type Element struct {
	Page   *int
	Type   string
	Text   string
	Coords *[4]float64
	Extras map[string]any
}

var reservedKeys = map[string]bool{"page": true, "type": true, "text": true, "coords": true}

// PageNum returns a pointer suitable for Element.Page.
func PageNum(n int) *int {
	return &n
}

// Box returns a pointer suitable for Element.Coords.
func Box(x0, y0, x1, y1 float64) *[4]float64 {
	return &[4]float64{x0, y0, x1, y1}
}

// Validate checks the shared schema invariants. The returned error has not
// been logged.
func (e Element) Validate() error {
	if e.Type == "" {
		return errs.Unlogged("element type is empty", errs.CodeValidationType)
	}
	if e.Page != nil && *e.Page < 1 {
		return errs.Unlogged("element page must be >= 1", errs.CodeValidationContent,
			errs.WithFields(map[string]any{"page": *e.Page}))
	}
	if IsNarrative(e.Type) && e.Text == "" {
		return errs.Unlogged("narrative element has empty text", errs.CodeValidationContent,
			errs.WithFields(map[string]any{"element_type": e.Type}))
	}
	if e.Coords != nil {
		c := *e.Coords
		for _, v := range c {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errs.Unlogged("element coords must be finite", errs.CodeValidationContent)
			}
		}
		if c[0] > c[2] || c[1] > c[3] {
			return errs.Unlogged("element coords out of order", errs.CodeValidationContent,
				errs.WithFields(map[string]any{"coords": fmt.Sprint(c)}))
		}
	}
	return nil
}

// WithExtra returns a copy of e with key set in Extras. Reserved keys are ignored.
func (e Element) WithExtra(key string, value any) Element {
	if reservedKeys[key] {
		return e
	}
	extras := make(map[string]any, len(e.Extras)+1)
	for k, v := range e.Extras {
		extras[k] = v
	}
	extras[key] = value
	e.Extras = extras
	return e
}

// MarshalJSON emits the wire shape: fixed keys first, extras flattened in
// sorted key order so identical elements always serialize identically.
func (e Element) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 128+len(e.Text))
	buf = append(buf, '{')

	write := func(k string, v any) error {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if len(buf) > 1 {
			buf = append(buf, ',')
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
		return nil
	}

	if err := write("page", e.Page); err != nil {
		return nil, err
	}
	if err := write("type", e.Type); err != nil {
		return nil, err
	}
	if err := write("text", e.Text); err != nil {
		return nil, err
	}
	if err := write("coords", e.Coords); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(e.Extras))
	for k := range e.Extras {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, e.Extras[k]); err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON reads the wire shape back, collecting unknown keys as extras.
func (e *Element) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var out Element
	for k, v := range raw {
		var err error
		switch k {
		case "page":
			err = json.Unmarshal(v, &out.Page)
		case "type":
			err = json.Unmarshal(v, &out.Type)
		case "text":
			err = json.Unmarshal(v, &out.Text)
		case "coords":
			err = json.Unmarshal(v, &out.Coords)
		default:
			var x any
			if err = json.Unmarshal(v, &x); err == nil {
				if out.Extras == nil {
					out.Extras = map[string]any{}
				}
				out.Extras[k] = x
			}
		}
		if err != nil {
			return fmt.Errorf("element field %q: %w", k, err)
		}
	}
	*e = out
	return nil
}

package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/markdave123-py/Extracta/internal/core"
)

var _ core.Extractor = (*XLSXExtractor)(nil)

// XLSXExtractor emits one Table element per non-empty row. The page number
// is the 1-based sheet index; cells are joined with tabs.
type XLSXExtractor struct {
	deps *EngineDeps
}

func NewXLSXExtractor(deps *EngineDeps) *XLSXExtractor {
	return &XLSXExtractor{deps: deps}
}

func (e *XLSXExtractor) Name() string        { return "xlsx" }
func (e *XLSXExtractor) Mode() core.FailMode { return core.FailSoft }

func (e *XLSXExtractor) Supports(src core.Source) bool {
	return hasExt(src, ".xlsx", ".xlsm") ||
		hasType(src, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
}

func (e *XLSXExtractor) Elements(ctx context.Context, src core.Source) iter.Seq2[core.Element, error] {
	return func(yield func(core.Element, error) bool) {
		data, err := e.deps.loadBytes(ctx, src)
		if errors.Is(err, errAbsent) {
			return
		}
		if err != nil {
			yield(core.Element{}, err)
			return
		}

		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			yield(core.Element{}, fmt.Errorf("open workbook: %w", err))
			return
		}
		defer f.Close()

		for idx, sheet := range f.GetSheetList() {
			if err := ctx.Err(); err != nil {
				yield(core.Element{}, err)
				return
			}
			if !e.sheet(f, idx+1, sheet, yield) {
				return
			}
		}
	}
}

// sheet streams one worksheet. A sheet that cannot be read ends the stream
// with its error; rows already yielded stand.
func (e *XLSXExtractor) sheet(f *excelize.File, page int, name string, yield func(core.Element, error) bool) bool {
	rows, err := f.Rows(name)
	if err != nil {
		yield(core.Element{}, fmt.Errorf("sheet %q: %w", name, err))
		return false
	}
	defer rows.Close()

	rowNum := 0
	for rows.Next() {
		rowNum++
		cols, err := rows.Columns()
		if err != nil {
			yield(core.Element{}, fmt.Errorf("sheet %q row %d: %w", name, rowNum, err))
			return false
		}
		text := strings.TrimRight(strings.Join(cols, "\t"), "\t")
		if strings.TrimSpace(text) == "" {
			continue
		}
		el := core.Element{Page: core.PageNum(page), Type: core.TypeTable, Text: text}.
			WithExtra("sheet", name).
			WithExtra("row", rowNum)
		if !yield(el, nil) {
			return false
		}
	}
	if err := rows.Error(); err != nil {
		yield(core.Element{}, fmt.Errorf("sheet %q: %w", name, err))
		return false
	}
	return true
}

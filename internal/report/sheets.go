package report

import (
	"context"
	"fmt"
)

// SheetTarget replaces the contents of one tab of a remote spreadsheet.
type SheetTarget interface {
	ReplaceSheet(ctx context.Context, title string, rows [][]any) error
}

// SheetsExporter pushes merchant reports to a shared spreadsheet, one tab
// per merchant and sheet.
type SheetsExporter struct {
	gen    *Generator
	target SheetTarget
}

func NewSheetsExporter(gen *Generator, target SheetTarget) *SheetsExporter {
	return &SheetsExporter{gen: gen, target: target}
}

// TabTitle names the spreadsheet tab holding a merchant's sheet.
func TabTitle(merchantID, sheet string) string {
	return fmt.Sprintf("%s %s", merchantID, sheet)
}

// Export renders the report for the range and replaces the merchant's tabs.
// Nothing is pushed when rendering fails.
func (e *SheetsExporter) Export(ctx context.Context, merchantID, from, to string) error {
	buf := &tableBuffer{}
	if err := e.gen.render(ctx, merchantID, from, to, buf); err != nil {
		return err
	}
	for _, t := range buf.tables {
		if err := e.target.ReplaceSheet(ctx, TabTitle(merchantID, t.name), t.rows); err != nil {
			return fmt.Errorf("export %s: %w", t.name, err)
		}
	}
	return nil
}

type table struct {
	name string
	rows [][]any
}

// tableBuffer collects rendered sheets in memory.
type tableBuffer struct {
	tables []*table
}

func (b *tableBuffer) addSheet(name string) error {
	b.tables = append(b.tables, &table{name: name})
	return nil
}

func (b *tableBuffer) writeHeader(columns ...string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return b.writeRow(row...)
}

func (b *tableBuffer) writeRow(values ...any) error {
	if len(b.tables) == 0 {
		return fmt.Errorf("no active sheet")
	}
	t := b.tables[len(b.tables)-1]
	t.rows = append(t.rows, values)
	return nil
}

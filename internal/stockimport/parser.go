package stockimport

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"item_id":     "item_id",
	"item":        "item_id",
	"sku":         "item_id",
	"location_id": "location_id",
	"location":    "location_id",
	"warehouse":   "location_id",
	"qty":         "qty",
	"quantity":    "qty",
	"physical":    "qty",
}

// Parser reads the active sheet of an xlsx workbook. The first row is the header; columns are
// matched by name in any order.
type Parser struct {
	validate *validator.Validate
}

// NewParser builds Parser.
func NewParser() *Parser {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return &Parser{validate: v}
}

// Parse returns the valid rows and a RowError for every rejected one. A malformed workbook or a
// missing header fails the whole file.
func (p *Parser) Parse(content []byte) ([]Row, []RowError, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("stockimport: open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("stockimport: read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil, ErrEmptySheet
	}

	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}

	var (
		out     []Row
		rejects []RowError
	)
	for i, raw := range rows[1:] {
		line := i + 2
		if blank(raw) {
			continue
		}
		row, rowErr := p.parseRow(line, raw, cols)
		if rowErr != nil {
			rejects = append(rejects, *rowErr)
			continue
		}
		out = append(out, row)
	}
	return out, rejects, nil
}

func (p *Parser) parseRow(line int, raw []string, cols map[string]int) (Row, *RowError) {
	row := Row{
		Line:       line,
		ItemID:     cell(raw, cols["item_id"]),
		LocationID: cell(raw, cols["location_id"]),
	}
	qtyText := strings.ReplaceAll(cell(raw, cols["qty"]), ",", ".")
	qty, err := decimal.NewFromString(qtyText)
	if err != nil {
		return Row{}, &RowError{Line: line, Field: "qty", Reason: fmt.Sprintf("not a number: %q", qtyText)}
	}
	row.Qty = qty
	if err := p.validate.Struct(row); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Row{}, &RowError{Line: line, Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		return Row{}, &RowError{Line: line, Reason: err.Error()}
	}
	return row, nil
}

func mapHeader(header []string) (map[string]int, error) {
	cols := make(map[string]int, 3)
	for i, name := range header {
		key, ok := headerAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}
		if _, seen := cols[key]; !seen {
			cols[key] = i
		}
	}
	for _, required := range []string{"item_id", "location_id", "qty"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	return cols, nil
}

func cell(raw []string, idx int) string {
	if idx >= len(raw) {
		return ""
	}
	return strings.TrimSpace(raw[idx])
}

func blank(raw []string) bool {
	for _, v := range raw {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

package posting

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
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
	return v
}

func (e *Engine) validateDocument(doc Document) error {
	fields := make(map[string]string)
	if err := e.validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[trimNamespace(fe.Namespace())] = fe.Tag()
		}
	}
	for i, line := range doc.Lines {
		prefix := fmt.Sprintf("lines[%d]", i)
		if line.Location(doc) == "" {
			fields[prefix+".location_id"] = "required"
		}
		if doc.Type == TypeStockAudit {
			if line.PhysicalQty.IsNegative() {
				fields[prefix+".physical_qty"] = "gte=0"
			}
			continue
		}
		if !line.Quantity.IsPositive() {
			fields[prefix+".quantity"] = "gt=0"
		}
	}
	if doc.Type == TypeStockAudit && doc.CustomerID != "" {
		fields["customer_id"] = "not allowed on stock audit"
	}
	if len(fields) > 0 {
		return &shared.ValidationError{Fields: fields}
	}
	return nil
}

func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

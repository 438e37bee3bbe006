package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "integer"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeEnum    FieldType = "enum"
	TypeList    FieldType = "list"
)

// Field declares one argument and how raw resolver output is coerced into it.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Description string
	// Enum lists accepted values for TypeEnum, compared case-insensitively.
	Enum []string
	// Positive requires a numeric value > 0.
	Positive bool
	// NonZero requires a numeric value != 0.
	NonZero bool
	// Fields describes the objects of a TypeList.
	Fields Schema
}

// Schema is an ordered argument list.
type Schema []Field

// Values holds coerced arguments: string, int64, decimal.Decimal, a
// YYYY-MM-DD string for dates, and []Values for lists.
type Values map[string]any

func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Int(name string) int64 {
	n, _ := v[name].(int64)
	return n
}

// IntPtr returns nil when the argument was not given.
func (v Values) IntPtr(name string) *int64 {
	n, ok := v[name].(int64)
	if !ok {
		return nil
	}
	return &n
}

func (v Values) Decimal(name string) decimal.Decimal {
	d, ok := v[name].(decimal.Decimal)
	if !ok {
		return decimal.Zero
	}
	return d
}

func (v Values) DecimalPtr(name string) *decimal.Decimal {
	d, ok := v[name].(decimal.Decimal)
	if !ok {
		return nil
	}
	return &d
}

func (v Values) List(name string) []Values {
	l, _ := v[name].([]Values)
	return l
}

// FieldError names the argument that failed coercion or a constraint.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Coerce validates raw against the schema. Unknown keys are ignored; empty
// strings and nulls count as absent.
func (s Schema) Coerce(raw map[string]any) (Values, error) {
	return s.coerce("", raw)
}

func (s Schema) coerce(prefix string, raw map[string]any) (Values, error) {
	out := make(Values, len(s))
	for _, f := range s {
		path := prefix + f.Name
		val, present := raw[f.Name]
		if str, ok := val.(string); ok && strings.TrimSpace(str) == "" {
			present = false
		}
		if val == nil {
			present = false
		}
		if !present {
			if f.Required {
				return nil, &FieldError{Field: path, Reason: "is required"}
			}
			continue
		}
		v, err := f.coerce(path, val)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (f Field) coerce(path string, val any) (any, error) {
	bad := func(format string, args ...any) error {
		return &FieldError{Field: path, Reason: fmt.Sprintf(format, args...)}
	}
	switch f.Type {
	case TypeString:
		switch x := val.(type) {
		case string:
			return strings.TrimSpace(x), nil
		case float64, json.Number, int, int64:
			return fmt.Sprint(x), nil
		}
		return nil, bad("must be text")

	case TypeEnum:
		s, ok := val.(string)
		if !ok {
			return nil, bad("must be one of %s", strings.Join(f.Enum, ", "))
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if !slices.Contains(f.Enum, s) {
			return nil, bad("must be one of %s, got %q", strings.Join(f.Enum, ", "), s)
		}
		return s, nil

	case TypeInt:
		n, err := toInt(val)
		if err != nil {
			return nil, bad("%v", err)
		}
		if f.Positive && n <= 0 {
			return nil, bad("must be greater than zero, got %d", n)
		}
		if f.NonZero && n == 0 {
			return nil, bad("must not be zero")
		}
		return n, nil

	case TypeDecimal:
		d, err := toDecimal(val)
		if err != nil {
			return nil, bad("%v", err)
		}
		if f.Positive && !d.IsPositive() {
			return nil, bad("must be greater than zero, got %s", d)
		}
		if f.NonZero && d.IsZero() {
			return nil, bad("must not be zero")
		}
		return d, nil

	case TypeDate:
		s, ok := val.(string)
		if !ok {
			return nil, bad("must be a date in YYYY-MM-DD form")
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return nil, bad("must be a date in YYYY-MM-DD form, got %q", s)
		}
		return s, nil

	case TypeList:
		items, ok := val.([]any)
		if !ok {
			return nil, bad("must be a list")
		}
		if len(items) == 0 && f.Required {
			return nil, bad("must not be empty")
		}
		out := make([]Values, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, &FieldError{Field: fmt.Sprintf("%s[%d]", path, i), Reason: "must be an object"}
			}
			v, err := f.Fields.coerce(fmt.Sprintf("%s[%d].", path, i), obj)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return nil, bad("has unsupported type %s", f.Type)
}

func toInt(val any) (int64, error) {
	switch x := val.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
			return 0, fmt.Errorf("must be a whole number, got %v", x)
		}
		if x >= math.MaxInt64 || x < math.MinInt64 {
			return 0, fmt.Errorf("is out of range, got %v", x)
		}
		return int64(x), nil
	case json.Number:
		return toInt(x.String())
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
		return 0, fmt.Errorf("must be a whole number, got %q", x)
	}
	return 0, fmt.Errorf("must be a whole number")
}

var currencyNoise = strings.NewReplacer("₹", "", "rs.", "", "rs", "", "inr", "", ",", "", " ", "", "/-", "")

func toDecimal(val any) (decimal.Decimal, error) {
	switch x := val.(type) {
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return decimal.Zero, fmt.Errorf("must be a number")
		}
		return decimal.NewFromFloat(x), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	case decimal.Decimal:
		return x, nil
	case string:
		s := currencyNoise.Replace(strings.ToLower(strings.TrimSpace(x)))
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("must be an amount, got %q", x)
		}
		return d, nil
	}
	return decimal.Zero, fmt.Errorf("must be an amount")
}

// JSONSchema renders the schema for the resolver's action catalog.
func (s Schema) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, f := range s {
		props.Set(f.Name, f.jsonSchema())
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func (f Field) jsonSchema() *jsonschema.Schema {
	desc := f.Description
	if f.Positive {
		desc = strings.TrimSpace(desc + " Must be greater than zero.")
	}
	if f.NonZero {
		desc = strings.TrimSpace(desc + " Must not be zero.")
	}
	sc := &jsonschema.Schema{Description: desc}
	switch f.Type {
	case TypeString:
		sc.Type = "string"
	case TypeEnum:
		sc.Type = "string"
		for _, e := range f.Enum {
			sc.Enum = append(sc.Enum, e)
		}
	case TypeInt:
		sc.Type = "integer"
	case TypeDecimal:
		sc.Type = "number"
	case TypeDate:
		sc.Type = "string"
		sc.Format = "date"
	case TypeList:
		sc.Type = "array"
		sc.Items = f.Fields.JSONSchema()
	}
	return sc
}

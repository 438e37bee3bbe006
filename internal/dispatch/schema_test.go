package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var invoiceSchema = Schema{
	{Name: "customer_name", Type: TypeString, Required: true},
	{Name: "items", Type: TypeList, Required: true, Fields: Schema{
		{Name: "product_name", Type: TypeString, Required: true},
		{Name: "quantity", Type: TypeInt, Required: true, Positive: true},
		{Name: "rate", Type: TypeDecimal, Required: true, Positive: true},
	}},
	{Name: "payment_mode", Type: TypeEnum, Enum: []string{"cash", "upi", "card"}},
	{Name: "date", Type: TypeDate},
}

func TestSchema_CoerceNormalizesRawValues(t *testing.T) {
	raw := map[string]any{
		"customer_name": "  Ramesh ",
		"items": []any{
			map[string]any{"product_name": "Vivo V29", "quantity": "2", "rate": "₹29,999"},
			map[string]any{"product_name": "Charger", "quantity": float64(1), "rate": 499.5},
		},
		"payment_mode": "UPI",
		"date":         "",
		"ignored":      true,
	}
	v, err := invoiceSchema.Coerce(raw)
	require.NoError(t, err)

	assert.Equal(t, "Ramesh", v.String("customer_name"))
	assert.Equal(t, "upi", v.String("payment_mode"))
	assert.False(t, v.Has("date"), "empty strings count as absent")
	assert.False(t, v.Has("ignored"))

	items := v.List("items")
	require.Len(t, items, 2)
	assert.EqualValues(t, 2, items[0].Int("quantity"))
	assert.True(t, items[0].Decimal("rate").Equal(decimal.NewFromInt(29999)))
	assert.True(t, items[1].Decimal("rate").Equal(decimal.RequireFromString("499.5")))
}

func TestSchema_CoerceRejects(t *testing.T) {
	item := func(qty, rate any) map[string]any {
		return map[string]any{
			"customer_name": "Ramesh",
			"items":         []any{map[string]any{"product_name": "Vivo", "quantity": qty, "rate": rate}},
		}
	}
	tests := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{name: "missing required", raw: map[string]any{"items": []any{}}, field: "customer_name"},
		{name: "empty list", raw: map[string]any{"customer_name": "R", "items": []any{}}, field: "items"},
		{name: "fractional quantity", raw: item(1.5, 10), field: "items[0].quantity"},
		{name: "zero quantity", raw: item(0, 10), field: "items[0].quantity"},
		{name: "text quantity", raw: item("two", 10), field: "items[0].quantity"},
		{name: "quantity beyond int64", raw: item(float64(1e20), 10), field: "items[0].quantity"},
		{name: "huge quantity as text", raw: item("99999999999999999999", 10), field: "items[0].quantity"},
		{name: "huge quantity as number", raw: item(json.Number("1e20"), 10), field: "items[0].quantity"},
		{name: "negative rate", raw: item(1, "-5"), field: "items[0].rate"},
		{name: "bad enum", raw: map[string]any{"customer_name": "R", "items": []any{map[string]any{"product_name": "x", "quantity": 1, "rate": 1}}, "payment_mode": "cheque"}, field: "payment_mode"},
		{name: "bad date", raw: map[string]any{"customer_name": "R", "items": []any{map[string]any{"product_name": "x", "quantity": 1, "rate": 1}}, "date": "18/10/2026"}, field: "date"},
		{name: "item not object", raw: map[string]any{"customer_name": "R", "items": []any{"vivo"}}, field: "items[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoiceSchema.Coerce(tt.raw)
			require.Error(t, err)
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestSchema_JSONSchema(t *testing.T) {
	out, err := json.Marshal(invoiceSchema.JSONSchema())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.ElementsMatch(t, []any{"customer_name", "items"}, doc["required"])
	assert.Equal(t, false, doc["additionalProperties"])

	props := doc["properties"].(map[string]any)
	items := props["items"].(map[string]any)
	assert.Equal(t, "array", items["type"])
	mode := props["payment_mode"].(map[string]any)
	assert.ElementsMatch(t, []any{"cash", "upi", "card"}, mode["enum"])
}

package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"biz-agent/internal/ai"
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
)

func TestFormatRupees(t *testing.T) {
	tests := map[string]string{
		"0":          "₹0",
		"999":        "₹999",
		"1000":       "₹1,000",
		"35398.82":   "₹35,398.82",
		"123456.5":   "₹1,23,456.50",
		"12345678":   "₹1,23,45,678",
		"-30":        "-₹30",
		"1000000.00": "₹10,00,000",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatRupees(decimal.RequireFromString(in)), in)
	}
}

func TestRenderFailure(t *testing.T) {
	res := dispatch.Result{Error: &dispatch.ResultError{Kind: core.KindInsufficientStock, Message: "only 1 Vivo V29 in stock, 2 requested"}}
	assert.Equal(t, "⚠️ only 1 Vivo V29 in stock, 2 requested", RenderResult(res))

	res = dispatch.Result{Error: &dispatch.ResultError{Kind: core.KindInternal, Message: "boom"}}
	assert.Equal(t, replyGeneric, RenderResult(res))
}

func TestRenderPaymentAdvance(t *testing.T) {
	text := RenderResult(dispatch.Result{Success: true, Data: &core.PaymentResult{
		Payment:  core.Payment{Amount: decimal.NewFromInt(500), Mode: core.PaymentUPI},
		Customer: core.Customer{Name: "Suresh", Outstanding: decimal.NewFromInt(-100)},
	}})
	assert.Contains(t, text, "₹500 received from Suresh (UPI)")
	assert.Contains(t, text, "Advance with us: ₹100")
}

func TestMemoryKeepsLastTurns(t *testing.T) {
	m := NewMemory(2)
	m.Add("a", ai.Exchange{User: "1"})
	m.Add("a", ai.Exchange{User: "2"})
	m.Add("a", ai.Exchange{User: "3"})
	m.Add("b", ai.Exchange{User: "x"})

	assert.Equal(t, []ai.Exchange{{User: "2"}, {User: "3"}}, m.Recent("a"))
	assert.Len(t, m.Recent("b"), 1)
	assert.Empty(t, m.Recent("c"))
}

func TestAuthorizer(t *testing.T) {
	open := NewAuthorizer(nil, "+919999900000")
	assert.True(t, open.Allowed("anyone"))

	a := NewAuthorizer([]string{"+91 98100-00001"}, "")
	assert.True(t, a.Allowed("whatsapp:+919810000001"))
	assert.True(t, a.Allowed("9810000001"))
	assert.False(t, a.Allowed("+919810000002"))
}

func TestRenderDailySummaryAdvances(t *testing.T) {
	s := &core.DailySummary{Date: "2026-10-18", TotalOutstanding: decimal.NewFromInt(1000)}
	assert.NotContains(t, RenderDailySummary(s), "Advances")

	s.Advances = decimal.NewFromInt(300)
	s.NetOutstanding = decimal.NewFromInt(700)
	assert.Contains(t, RenderDailySummary(s), "Advances held: ₹300 (net ₹700)")
}

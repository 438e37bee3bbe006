package repl

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/app"
	"biz-agent/internal/core"
	"biz-agent/internal/dispatch"
)

type fakeService struct {
	app.ApplicationService

	products    []core.Product
	executed    []app.ExecuteActionRequest
	summaryDate string
	remindDays  int
}

func (f *fakeService) ListProducts(ctx context.Context) (*app.ProductListResult, error) {
	return &app.ProductListResult{Products: f.products}, nil
}

func (f *fakeService) ListCustomers(ctx context.Context) (*app.CustomerListResult, error) {
	return &app.CustomerListResult{Customers: []core.Customer{
		{ID: 1, Name: "Ramesh", Phone: "9876543210", Outstanding: decimal.NewFromInt(1500)},
	}}, nil
}

func (f *fakeService) GetDailySummary(ctx context.Context, date string) (*core.DailySummary, error) {
	f.summaryDate = date
	return &core.DailySummary{Date: "2026-10-18"}, nil
}

func (f *fakeService) SendOverdueReminders(ctx context.Context, days int) (*app.ReminderResult, error) {
	f.remindDays = days
	return &app.ReminderResult{Sent: 2, Skipped: 1}, nil
}

func (f *fakeService) ExecuteAction(ctx context.Context, req app.ExecuteActionRequest) (*dispatch.Result, error) {
	f.executed = append(f.executed, req)
	return &dispatch.Result{Action: req.Action, Success: true}, nil
}

type fakeInbox struct {
	mu        sync.Mutex
	fragments []aggregator.Fragment
}

func (f *fakeInbox) Ingest(fr aggregator.Fragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fragments = append(f.fragments, fr)
	return nil
}

func runSession(t *testing.T, svc *fakeService, input string) (*fakeInbox, string) {
	t.Helper()
	inbox := &fakeInbox{}
	var out bytes.Buffer
	s := &Session{Svc: svc, Inbox: inbox, Sender: "+919876500000", Out: &out,
		now: func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC) }}
	s.Run(context.Background(), strings.NewReader(input))
	return inbox, out.String()
}

func TestPlainLinesAreIngested(t *testing.T) {
	inbox, _ := runSession(t, &fakeService{}, "Ramesh ko 2 Vivo V29 diye\n\nudhaar pe\n")

	require.Len(t, inbox.fragments, 2)
	for _, f := range inbox.fragments {
		assert.Equal(t, "+919876500000", f.SenderID)
		assert.Equal(t, aggregator.KindText, f.Kind)
		assert.NotEmpty(t, f.MessageID)
	}
	assert.Equal(t, "udhaar pe", inbox.fragments[1].Text)
	assert.NotEqual(t, inbox.fragments[0].MessageID, inbox.fragments[1].MessageID)
}

func TestSlashCommands(t *testing.T) {
	svc := &fakeService{products: []core.Product{
		{ID: 1, Name: "Vivo V29", Unit: "piece", Stock: 3, LowStockAlert: 5, SellingPrice: decimal.NewFromInt(29999), GSTRate: decimal.NewFromInt(18)},
		{ID: 2, Name: "Charger", Unit: "piece", Stock: 40, LowStockAlert: 5, SellingPrice: decimal.NewFromInt(499), GSTRate: decimal.NewFromInt(18)},
	}}
	inbox, out := runSession(t, svc, "/products\n/customers\n/summary 2026-10-17\n/remind 7\n/bogus\n")

	assert.Empty(t, inbox.fragments)
	assert.Contains(t, out, "Vivo V29")
	assert.Contains(t, out, "LOW")
	assert.Equal(t, 1, strings.Count(out, "LOW"))
	assert.Contains(t, out, "Ramesh")
	assert.Equal(t, "2026-10-17", svc.summaryDate)
	assert.Contains(t, out, "Summary for 2026-10-18")
	assert.Equal(t, 7, svc.remindDays)
	assert.Contains(t, out, "Reminders sent: 2, skipped: 1, failed: 0")
	assert.Contains(t, out, "Unknown command: /bogus")
}

func TestRemindDefaultsAndRejectsBadDays(t *testing.T) {
	svc := &fakeService{}
	_, out := runSession(t, svc, "/remind zero\n")
	assert.Contains(t, out, "Usage: /remind [days]")
	assert.Zero(t, svc.remindDays)

	_, _ = runSession(t, svc, "/remind\n")
	assert.Equal(t, 30, svc.remindDays)
}

func TestExitStopsReading(t *testing.T) {
	inbox, out := runSession(t, &fakeService{}, "/exit\nhello\n")
	assert.Empty(t, inbox.fragments)
	assert.Contains(t, out, "Goodbye!")
}

func TestSaleWizard(t *testing.T) {
	svc := &fakeService{}
	_, out := runSession(t, svc, "/sale Ramesh Kumar\nVivo V29 2 29999\nbad line\nCharger 1 ₹499.50\ndone\nupi\n")

	require.Len(t, svc.executed, 1)
	req := svc.executed[0]
	assert.Equal(t, "create_invoice", req.Action)
	assert.Equal(t, "+919876500000", req.SenderID)
	assert.NotEmpty(t, req.MessageID)
	assert.Equal(t, "Ramesh Kumar", req.Args["customer_name"])
	assert.Equal(t, "upi", req.Args["payment_mode"])

	items := req.Args["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, "Vivo V29", first["product_name"])
	assert.Equal(t, int64(2), first["quantity"])
	assert.Equal(t, "29999", first["rate"])
	assert.Equal(t, "499.5", items[1].(map[string]any)["rate"])

	assert.Contains(t, out, "invalid format")
	assert.Contains(t, out, "Done.")
}

func TestSaleWizardCreditAndCancel(t *testing.T) {
	svc := &fakeService{}
	_, _ = runSession(t, svc, "/sale Ramesh\nCharger 1 499\ndone\n\n")
	require.Len(t, svc.executed, 1)
	_, hasMode := svc.executed[0].Args["payment_mode"]
	assert.False(t, hasMode, "blank mode is a credit sale")

	svc = &fakeService{}
	_, out := runSession(t, svc, "/sale Ramesh\nCharger 1 499\ncancel\n")
	assert.Empty(t, svc.executed)
	assert.Contains(t, out, "Sale cancelled.")

	_, out = runSession(t, svc, "/sale Ramesh\ndone\n")
	assert.Empty(t, svc.executed)
	assert.Contains(t, out, "No items entered")
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		raw     string
		wantErr string
	}{
		{raw: "Vivo 2", wantErr: "invalid format"},
		{raw: "Vivo x 100", wantErr: "invalid quantity"},
		{raw: "Vivo 1.5 100", wantErr: "invalid quantity"},
		{raw: "Vivo 0 100", wantErr: "invalid quantity"},
		{raw: "Vivo 1 -5", wantErr: "invalid rate"},
		{raw: "Samsung Galaxy A15 3 12999.00"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			item, err := parseItem(tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Samsung Galaxy A15", item["product_name"])
			assert.Equal(t, int64(3), item["quantity"])
		})
	}
}

func TestConsoleSend(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	require.NoError(t, c.Send(context.Background(), "+91999", "✅ Invoice INV202610180001"))
	assert.Contains(t, out.String(), "[agent → +91999]")
	assert.Contains(t, out.String(), "INV202610180001")
}

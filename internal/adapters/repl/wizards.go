package repl

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"biz-agent/internal/app"
	"biz-agent/internal/core"
)

// handleNewSale runs an interactive invoice entry session.
func (s *Session) handleNewSale(ctx context.Context, customer string) error {
	fmt.Fprintf(s.Out, "New sale for: %s\n", customer)
	fmt.Fprintln(s.Out, "Enter items. Type 'done' when finished, 'cancel' to abort.")
	fmt.Fprintln(s.Out, "Format per line: <product name> <quantity> <rate>")
	fmt.Fprintln(s.Out, "  Example: Vivo V29 2 29999")

	var items []any
	lineNum := 1
	for {
		fmt.Fprintf(s.Out, "  Item %d: ", lineNum)
		raw, ok := s.readLine()
		if !ok || strings.EqualFold(raw, "cancel") {
			fmt.Fprintln(s.Out, "Sale cancelled.")
			return nil
		}
		if strings.EqualFold(raw, "done") {
			break
		}
		if raw == "" {
			continue
		}

		item, err := parseItem(raw)
		if err != nil {
			fmt.Fprintf(s.Out, "  %v\n", err)
			continue
		}
		items = append(items, item)
		lineNum++
	}

	if len(items) == 0 {
		fmt.Fprintln(s.Out, "No items entered. Sale not recorded.")
		return nil
	}

	fmt.Fprintf(s.Out, "Paid now? (%s, blank for udhaar): ", modeList())
	mode, _ := s.readLine()

	args := map[string]any{"customer_name": customer, "items": items}
	if mode != "" {
		args["payment_mode"] = strings.ToLower(mode)
	}
	res, err := s.Svc.ExecuteAction(ctx, app.ExecuteActionRequest{
		Action:    "create_invoice",
		Args:      args,
		MessageID: uuid.NewString(),
		SenderID:  s.Sender,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(s.Out, app.RenderResult(*res))
	return nil
}

// parseItem splits "<product name> <quantity> <rate>"; the name may contain spaces.
func parseItem(raw string) (map[string]any, error) {
	parts := strings.Fields(raw)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid format, use: <product name> <quantity> <rate>")
	}
	n := len(parts)
	qty, err := decimal.NewFromString(parts[n-2])
	if err != nil || !qty.IsPositive() || !qty.IsInteger() {
		return nil, fmt.Errorf("invalid quantity %q", parts[n-2])
	}
	rate, err := decimal.NewFromString(strings.TrimPrefix(parts[n-1], "₹"))
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("invalid rate %q", parts[n-1])
	}
	return map[string]any{
		"product_name": strings.Join(parts[:n-2], " "),
		"quantity":     qty.IntPart(),
		"rate":         rate.String(),
	}, nil
}

func modeList() string {
	modes := make([]string, len(core.PaymentModes))
	for i, m := range core.PaymentModes {
		modes[i] = string(m)
	}
	return strings.Join(modes, "/")
}

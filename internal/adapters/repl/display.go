package repl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"biz-agent/internal/app"
)

func printProducts(w io.Writer, result *app.ProductListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "  PRODUCTS")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	if len(result.Products) == 0 {
		fmt.Fprintln(w, "  No products found.")
		fmt.Fprintln(w, strings.Repeat("=", 72))
		return
	}
	fmt.Fprintf(w, "  %-30s %8s %-6s %14s %5s\n", "NAME", "STOCK", "UNIT", "PRICE", "GST")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, p := range result.Products {
		flag := ""
		if p.Stock <= p.LowStockAlert {
			flag = "  LOW"
		}
		fmt.Fprintf(w, "  %-30s %8d %-6s %14s %4s%%%s\n",
			p.Name, p.Stock, p.Unit, app.FormatRupees(p.SellingPrice), p.GSTRate.String(), flag)
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func printCustomers(w io.Writer, result *app.CustomerListResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "  CUSTOMERS")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	if len(result.Customers) == 0 {
		fmt.Fprintln(w, "  No customers found.")
		fmt.Fprintln(w, strings.Repeat("=", 72))
		return
	}
	fmt.Fprintf(w, "  %-30s %-15s %16s\n", "NAME", "PHONE", "OUTSTANDING")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, c := range result.Customers {
		fmt.Fprintf(w, "  %-30s %-15s %16s\n", c.Name, c.Phone, app.FormatRupees(c.Outstanding))
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `Commands:
  /products            list products and stock
  /customers           list customers and udhaar balances
  /summary [date]      daily summary, date as YYYY-MM-DD
  /remind [days]       send udhaar reminders (default 30 days)
  /sale <customer>     enter an invoice line by line
  /help                this help
  /exit                quit

Anything else is sent to the agent as a chat message.`)
}

// Console prints replies to the terminal. It satisfies app.Replier.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Send(ctx context.Context, to, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n[agent → %s]\n%s\n> ", to, body)
	return err
}

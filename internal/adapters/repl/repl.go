package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"biz-agent/internal/aggregator"
	"biz-agent/internal/app"
)

// Inbox accepts typed lines as fragments; *aggregator.Aggregator satisfies it.
type Inbox interface {
	Ingest(f aggregator.Fragment) error
}

// Session is one interactive console. Plain lines go through the inbox the
// same way chat messages do, so quick consecutive lines merge into one
// message. Slash commands call the service directly, no resolver involved.
type Session struct {
	Svc    app.ApplicationService
	Inbox  Inbox
	Sender string
	Out    io.Writer

	in  *bufio.Scanner
	now func() time.Time
}

var errExit = errors.New("exit")

// Run reads lines from in until EOF, /exit or ctx ends.
func (s *Session) Run(ctx context.Context, in io.Reader) {
	s.in = bufio.NewScanner(in)
	if s.now == nil {
		s.now = time.Now
	}

	fmt.Fprintln(s.Out, "Bookkeeping Agent")
	fmt.Fprintf(s.Out, "Sender: %s\n", s.Sender)
	fmt.Fprintln(s.Out, "Type a message as you would on WhatsApp, or use /help for commands.")
	fmt.Fprintln(s.Out, strings.Repeat("-", 70))

	for ctx.Err() == nil {
		fmt.Fprint(s.Out, "\n> ")
		input, ok := s.readLine()
		if !ok {
			return
		}
		if input == "" {
			continue
		}

		// Slash prefix → deterministic command dispatcher, no AI invoked.
		if strings.HasPrefix(input, "/") {
			if err := s.dispatchSlash(ctx, input); err != nil {
				if errors.Is(err, errExit) {
					fmt.Fprintln(s.Out, "Goodbye!")
					return
				}
				fmt.Fprintf(s.Out, "Error: %v\n", err)
			}
			continue
		}

		err := s.Inbox.Ingest(aggregator.Fragment{
			SenderID:  s.Sender,
			MessageID: uuid.NewString(),
			Timestamp: s.now(),
			Kind:      aggregator.KindText,
			Text:      input,
		})
		if err != nil {
			fmt.Fprintf(s.Out, "Error: %v\n", err)
		}
	}
}

func (s *Session) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}

func (s *Session) dispatchSlash(ctx context.Context, input string) error {
	tokens := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(tokens) == 0 {
		return nil
	}
	cmd := strings.ToLower(tokens[0])
	args := tokens[1:]

	switch cmd {
	case "products", "stock":
		result, err := s.Svc.ListProducts(ctx)
		if err != nil {
			return err
		}
		printProducts(s.Out, result)

	case "customers", "udhaar":
		result, err := s.Svc.ListCustomers(ctx)
		if err != nil {
			return err
		}
		printCustomers(s.Out, result)

	case "summary":
		date := ""
		if len(args) > 0 {
			date = args[0]
		}
		summary, err := s.Svc.GetDailySummary(ctx, date)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.Out, app.RenderDailySummary(summary))

	case "remind":
		days := 30
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				fmt.Fprintln(s.Out, "Usage: /remind [days]")
				return nil
			}
			days = n
		}
		result, err := s.Svc.SendOverdueReminders(ctx, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "Reminders sent: %d, skipped: %d, failed: %d\n", result.Sent, result.Skipped, result.Failed)

	case "sale":
		if len(args) < 1 {
			fmt.Fprintln(s.Out, "Usage: /sale <customer name>")
			return nil
		}
		return s.handleNewSale(ctx, strings.Join(args, " "))

	case "help", "h":
		printHelp(s.Out)

	case "exit", "quit", "e", "q":
		return errExit

	default:
		fmt.Fprintf(s.Out, "Unknown command: /%s  (type /help for all commands)\n", cmd)
	}
	return nil
}

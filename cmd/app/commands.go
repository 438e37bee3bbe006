package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	webAdapter "biz-agent/internal/adapters/web"
	"biz-agent/internal/aggregator"
	"biz-agent/internal/app"
	"biz-agent/internal/config"
	"biz-agent/internal/core"
	"biz-agent/internal/db"
	"biz-agent/internal/dispatch"
	"biz-agent/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		return db.Migrate(ctx, s.pool, logger.WithComponent("migrate"))
	},
}

var execMessageID, execSender string

var execCmd = &cobra.Command{
	Use:   "exec <action> [json-args]",
	Short: "Execute a structured action, bypassing the intent resolver",
	Example: `  app exec record_payment '{"customer_name":"Sharma Mobiles","amount":"₹5,000","payment_mode":"upi"}'
  app exec get_daily_summary`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		callArgs := map[string]any{}
		if len(args) == 2 {
			dec := json.NewDecoder(strings.NewReader(args[1]))
			dec.UseNumber()
			if err := dec.Decode(&callArgs); err != nil {
				return fmt.Errorf("args must be a JSON object: %w", err)
			}
		}
		if execMessageID == "" {
			execMessageID = uuid.NewString()
		}

		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		svc, err := s.service()
		if err != nil {
			return err
		}

		res, err := svc.ExecuteAction(ctx, app.ExecuteActionRequest{
			Action:    args[0],
			Args:      callArgs,
			MessageID: execMessageID,
			SenderID:  execSender,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), app.RenderResult(*res))
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var askSender string

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Run a message through the resolver and dispatcher as if it came from a sender",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		if s.cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is not set")
		}
		svc, err := s.service()
		if err != nil {
			return err
		}

		sender := askSender
		if sender == "" {
			sender = s.cfg.OwnerPhone
		}
		id := uuid.NewString()
		now := time.Now()
		out, err := svc.HandleMessage(ctx, aggregator.Merged{
			FlushID:    id,
			SenderID:   sender,
			MessageID:  id,
			MessageIDs: []string{id},
			Text:       strings.Join(args, " "),
			Fragments:  1,
			FirstAt:    now,
			LastAt:     now,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), out.Reply)
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var summaryDate string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the daily summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		svc, err := s.service()
		if err != nil {
			return err
		}
		summary, err := svc.GetDailySummary(ctx, summaryDate)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), app.RenderDailySummary(summary))
		return nil
	},
}

var remindDays int

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Send udhaar reminders to overdue customers now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()
		svc, err := s.service()
		if err != nil {
			return err
		}
		res, err := svc.SendOverdueReminders(ctx, remindDays)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the action API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := webAdapter.IssueToken(cfg.JWTSecret, tokenSubject, "owner", tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

// seedProduct is one catalogue line of a seed file.
type seedProduct struct {
	Name          string `json:"name"`
	SellingPrice  any    `json:"selling_price"`
	CostPrice     any    `json:"cost_price,omitempty"`
	Stock         any    `json:"stock,omitempty"`
	GSTRate       any    `json:"gst_rate,omitempty"`
	Unit          string `json:"unit,omitempty"`
	LowStockAlert any    `json:"low_stock_alert,omitempty"`
}

func (p seedProduct) args() map[string]any {
	out := map[string]any{"name": p.Name, "selling_price": p.SellingPrice}
	set := func(k string, v any) {
		if v != nil && v != "" {
			out[k] = v
		}
	}
	set("cost_price", p.CostPrice)
	set("stock", p.Stock)
	set("gst_rate", p.GSTRate)
	set("unit", p.Unit)
	set("low_stock_alert", p.LowStockAlert)
	return out
}

var seedCmd = &cobra.Command{
	Use:   "seed <products.json>",
	Short: "Create catalogue products from a JSON file; re-running is a no-op",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		var products []seedProduct
		dec := json.NewDecoder(f)
		dec.UseNumber()
		if err := dec.Decode(&products); err != nil {
			return fmt.Errorf("decode %s: %w", args[0], err)
		}

		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		var created, existing, failed int
		for _, p := range products {
			res := s.dispatcher.Execute(ctx, dispatch.Call{
				Action:    "create_product",
				Args:      p.args(),
				MessageID: "seed:" + core.NormalizeName(p.Name),
			})
			switch {
			case res.Duplicate:
				existing++
			case res.Success:
				created++
			default:
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", p.Name, res.Error.Message)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d, already present %d, failed %d\n", created, existing, failed)
		if failed > 0 {
			return fmt.Errorf("%d products failed", failed)
		}
		return nil
	},
}

func init() {
	execCmd.Flags().StringVar(&execMessageID, "message-id", "", "idempotency key (default: random uuid)")
	execCmd.Flags().StringVar(&execSender, "sender", "cli", "sender id recorded with the call")
	askCmd.Flags().StringVar(&askSender, "sender", "", "sender phone (default: OWNER_PHONE)")
	summaryCmd.Flags().StringVar(&summaryDate, "date", "", "day as YYYY-MM-DD (default: today)")
	remindCmd.Flags().IntVar(&remindDays, "days", 30, "days without ledger activity")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "owner", "token subject, used as sender id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(migrateCmd, execCmd, askCmd, summaryCmd, remindCmd, tokenCmd, seedCmd)
}

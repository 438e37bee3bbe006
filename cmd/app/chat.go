package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"biz-agent/internal/adapters/repl"
	"biz-agent/internal/aggregator"
	"biz-agent/internal/app"
	"biz-agent/internal/logger"
)

var chatSender string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent from the terminal",
	Long: `chat reads messages from stdin and runs them through the same debounce
and resolver pipeline as the chat webhook. Replies are printed to the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openStack(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		console := repl.NewConsole(os.Stdout)
		svc, err := s.serviceWith(console)
		if err != nil {
			return err
		}
		sender := chatSender
		if sender == "" {
			sender = s.cfg.OwnerPhone
		}
		agg := aggregator.New(
			aggregator.Config{Window: s.cfg.DebounceWindow},
			app.FlushHandler(svc, logger.WithComponent("pipeline")),
			aggregator.WithLogger(logger.WithComponent("aggregator")),
		)

		session := &repl.Session{Svc: svc, Inbox: agg, Sender: sender, Out: os.Stdout}
		session.Run(ctx, os.Stdin)

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ResolverTimeout*2+s.cfg.DebounceWindow)
		defer cancel()
		return agg.Drain(drainCtx)
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatSender, "sender", "", "sender phone (default: OWNER_PHONE)")
	rootCmd.AddCommand(chatCmd)
}

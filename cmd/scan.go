package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"starbot/internal/blacklist"
	"starbot/internal/bot"
	"starbot/internal/config"
	slackint "starbot/internal/integrations/slack"
	"starbot/internal/logging"
	"starbot/internal/storage"
)

func scanCmd() *cobra.Command {
	var (
		token     string
		channelID string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one channel once and exit",
		Long:  "Authenticates with the bot token, scans the channel's recent history, saves new links and reacts to the messages that carried them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.SetupLogger(logLevel(cfg.LogLevel), cfg.LogFormat)

			if token == "" {
				token = cfg.SlackBotToken
			}
			if token == "" {
				return fmt.Errorf("a bot token is required: pass --token or set SLACK_BOT_TOKEN")
			}
			cfg.SlackBotToken = token
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, err := storage.NewSQLStore(cfg.StoreDriver, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			b := bot.New(storage.BotRecord{Token: token}, slackint.NewClient(token), nil, store,
				blacklist.NewSeeded(cfg.LinkBlacklist, ","),
				bot.Config{Emoji: cfg.ReactionEmoji, HistoryLimit: cfg.ScanHistoryLimit})

			if err := b.Authenticate(ctx); err != nil {
				return err
			}

			result, err := b.ScanChannel(ctx, channelID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d messages, %d candidates, %d already known, %d new links saved, %d reactions\n",
				result.Messages, result.Candidates, result.Known, result.Inserted, result.Reacted)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bot token (default $SLACK_BOT_TOKEN)")
	cmd.Flags().StringVar(&channelID, "channel", "", "channel id to scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	_ = cmd.MarkFlagRequired("channel")

	return cmd
}

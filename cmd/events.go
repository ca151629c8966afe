/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
	"github.com/stustapay/apiserver/config"
	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/internal/mq"
	"github.com/stustapay/apiserver/internal/services"
)

// eventsCmd groups message queue commands.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect user lifecycle events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log user lifecycle events as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		bus, err := mq.Open(cmd.Context(), cfg.MQ)
		if err != nil {
			return err
		}
		if bus == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer bus.Close()

		log := logging.Get()
		return bus.Subscribe(cmd.Context(), services.UserEventsChannel, func(ctx context.Context, msg mq.Message) error {
			var event services.UserEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed user event")
				return nil
			}
			log.Info().
				Str("message_id", msg.ID).
				Str("type", event.Type).
				Int64("user_id", event.UserID).
				Str("privilege", string(event.Privilege)).
				Time("occurred_at", event.OccurredAt).
				Msg("user event")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/maltedev/price-crawler/internal/events"
	"github.com/maltedev/price-crawler/internal/models"
)

func newEventsCmd(g *globalOptions) *cobra.Command {
	var group, consumer string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow run events published to Redis",
		Long:  "Tail the crawl event stream (REDIS_ADDR, REDIS_STREAM) through a consumer group.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled() {
				return errors.New("REDIS_ADDR is not set")
			}
			log := newLogger(cfg, g, false)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer client.Close()
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}

			c := events.NewConsumer(client, events.ConsumerConfig{Stream: cfg.Redis.Stream, Group: group, Consumer: consumer}, log)
			err = c.Run(ctx, func(_ context.Context, ev models.RunEvent) error {
				return printEvent(os.Stdout, ev, asJSON)
			})
			if isInterrupt(err) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&group, "group", "crawl-events-tail", "Consumer group name")
	cmd.Flags().StringVar(&consumer, "consumer", "consumer-1", "Consumer name within the group")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON events")
	return cmd
}

func printEvent(w io.Writer, ev models.RunEvent, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(ev)
	}
	_, err := fmt.Fprintf(w, "%s  %-20s run=%s phase=%s batch=%d index=%d processed=%d ok=%d failed=%d blocked=%d %s\n",
		ev.Timestamp.Format(models.TimestampLayout), ev.Type, ev.RunID, ev.Phase, ev.Batch, ev.Index,
		ev.Processed, ev.Succeeded, ev.Failed, ev.Blocked, ev.Reason)
	return err
}

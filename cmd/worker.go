/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopfront/apiserver/config"
	"github.com/shopfront/apiserver/internal/events"
	"github.com/shopfront/apiserver/internal/logging"
	"github.com/shopfront/apiserver/internal/mq"
	"github.com/spf13/cobra"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consumes order events and sends customer notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logger.WithContext(ctx)

		broker, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is required to run the worker")
		}
		defer broker.Close()

		notifier := events.NewNotifier(events.NewLogSender(logger))
		logger.Info().Str("backend", cfg.MQ.Backend).Str("channel", cfg.MQ.Channel).Msg("worker consuming order events")

		err = broker.Subscribe(ctx, cfg.MQ.Channel, notifier.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consume %s: %w", cfg.MQ.Channel, err)
		}
		logger.Info().Msg("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

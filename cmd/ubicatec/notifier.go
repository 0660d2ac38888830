package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ubicatec/ubicatec-api/internal/config"
	"github.com/ubicatec/ubicatec-api/internal/logger"
	"github.com/ubicatec/ubicatec-api/internal/mail"
	"github.com/ubicatec/ubicatec-api/internal/queue"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Send confirmation mail for queued reservations",
	Long: `Consume the reserva.confirmada queue and deliver one confirmation
mail per message through the configured SMTP relay.

Used when the API runs with NOTIFY_MODE=queue.`,
	RunE: runNotifier,
}

func runNotifier(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailer := mail.NewMailer(cfg.SMTP, log)
	handle := func(ctx context.Context, ev queue.ReservationConfirmed) error {
		sendCtx, cancel := context.WithTimeout(ctx, cfg.NotifyTimeout)
		defer cancel()
		return mailer.Notify(sendCtx, ev)
	}

	log.Info("notifier started", zap.String("queue", queue.ReservationQueue))
	err = queue.StartConsumer(ctx, cfg.RabbitURL, handle, log)
	if errors.Is(err, context.Canceled) {
		log.Info("notifier stopped")
		return nil
	}
	return err
}

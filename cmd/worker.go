package cmd

import (
	"context"
	"example.com/backstage/services/orderbot/internal/messaging"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that consumes queued chat messages and resumes interrupted order confirmations`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Consume the inbound queue session by session
	if cfg.Azure.QueueConnStr != "" {
		consumer, err := messaging.NewSessionConsumer(cfg.Azure)
		if err != nil {
			return err
		}
		app.onClose(consumer.Close)

		g.Go(func() error {
			return consumer.Run(ctx, app.dispatcher)
		})
	} else {
		log.Warn().Msg("Azure Service Bus connection string not provided, inbound queue consumer disabled")
	}

	// Resume confirmations interrupted by a crash or a lost connection
	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Recovery.Interval),
			gocron.NewTask(func() {
				result, err := app.confirmer.RecoverConfirmations(ctx, cfg.Recovery.StaleAfter, cfg.Recovery.BatchSize)
				if err != nil {
					log.Error().Err(err).Msg("Failed to recover confirmations")
					return
				}
				if result.Resumed > 0 {
					log.Info().
						Int("resumed", result.Resumed).
						Int("completed", result.Completed).
						Int("failed", result.Failed).
						Msg("Recovered stale confirmations")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule confirmation recovery")
		}

		log.Info().Dur("interval", cfg.Recovery.Interval).Msg("Starting confirmation recovery job")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

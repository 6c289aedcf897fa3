package cmd

import (
	"context"
	"example.com/backstage/services/orderbot/internal/api"
	"example.com/backstage/services/orderbot/internal/messaging"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP server that receives the WhatsApp webhook and serves the admin and order endpoints`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
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

	// Queue inbound messages for the worker when forwarding is enabled
	var forwarder api.Forwarder
	if cfg.Azure.ForwardInbound {
		inbound, err := messaging.NewInboundForwarder(cfg.Azure)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize inbound forwarder, handling messages inline")
		} else {
			app.onClose(inbound.Close)
			forwarder = inbound
		}
	}

	server := api.NewServer(cfg, api.Handlers{
		Webhook: api.NewWebhookHandler(cfg.WhatsApp.VerifyToken, app.dispatcher, forwarder, app.tracer, cfg.ServerTimeout),
		Admin:   api.NewAdminHandler(app.messenger, app.dispatcher, app.blacklist),
		Orders:  api.NewOrderHandler(app.orders, app.tracer),
	}, app.tracer, app.metrics)

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/quote-caller/internal/bridge"
	"github.com/ziadkadry99/quote-caller/internal/callstate"
	"github.com/ziadkadry99/quote-caller/internal/extraction"
	"github.com/ziadkadry99/quote-caller/internal/maintenance"
	"github.com/ziadkadry99/quote-caller/internal/negotiation"
	"github.com/ziadkadry99/quote-caller/internal/notifications"
	"github.com/ziadkadry99/quote-caller/internal/quotes"
	"github.com/ziadkadry99/quote-caller/internal/server"
	"github.com/ziadkadry99/quote-caller/internal/webhooks"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the call service",
	Long: `Starts the quotecall HTTP service: the chat-completions bridge the voice
vendor polls for every turn, the lifecycle webhook, the quote and
notification APIs, and the background extraction workers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		states, err := a.stateStore()
		if err != nil {
			return err
		}
		processor, err := a.turnProcessor()
		if err != nil {
			return err
		}
		runner, err := a.extractionRunner()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner.Start(ctx)

		if cfg.Maintenance.Enabled {
			sched, err := maintenance.New(states, a.quotes, runner, a.dispatcher, maintenance.Options{
				PurgeSchedule:     cfg.Maintenance.PurgeSchedule,
				RequeueSchedule:   cfg.Maintenance.RequeueSchedule,
				RedeliverSchedule: cfg.Maintenance.RedeliverSchedule,
				Logger:            a.logger.With("component", "maintenance"),
			})
			if err != nil {
				return fmt.Errorf("configuring maintenance: %w", err)
			}
			sched.Start(ctx)
			a.logger.Info("maintenance jobs scheduled", "jobs", sched.Jobs())
		}

		srv := server.New(server.Config{
			Port:     cfg.Server.Port,
			AllowAll: cfg.Server.AllowAllOrigins,
		}, a.database, a.metrics, a.logger)

		registerAllRoutes(srv, a, states, processor, runner)

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown", "error", err)
			}
		}()

		a.logger.Info("quotecall starting",
			"version", Version,
			"port", cfg.Server.Port,
			"database", a.database.Path(),
			"state_backend", cfg.StateStore.Backend,
			"provider", cfg.Provider,
			"model", cfg.Model,
		)

		err = srv.Start()
		stop()
		runner.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

// registerAllRoutes mounts every feature's routes on the server router.
func registerAllRoutes(srv *server.Server, a *app, states callstate.Store, processor *negotiation.Processor, runner *extraction.Runner) {
	r := srv.Router()
	cfg := a.cfg

	// Quotes, calls and supplier replies
	quotes.RegisterRoutes(r, a.quotes, runner)

	// Notifications
	notifications.RegisterRoutes(r, a.notices, a.dispatcher)

	// Per-turn bridge
	bridge.RegisterRoutes(r, bridge.NewHandler(states, a.quotes, processor, bridge.Options{
		Secret:                 cfg.Bridge.Secret,
		AcceptPlaceholderToken: cfg.Bridge.AcceptPlaceholderToken,
		PlaceholderToken:       cfg.Bridge.PlaceholderToken,
		MaxNegotiationAttempts: cfg.Negotiation.MaxNegotiationAttempts,
		Logger:                 a.logger.With("component", "bridge"),
		Fallbacks:              a.metrics.BridgeFallbacks,
	}))

	// Lifecycle webhooks
	webhooks.RegisterRoutes(r, webhooks.NewGateway(states, a.quotes, processor, webhooks.Options{
		Secret:                 cfg.Webhooks.Secret,
		SecretHeader:           cfg.Webhooks.SecretHeader,
		MaxNegotiationAttempts: cfg.Negotiation.MaxNegotiationAttempts,
		Scheduler:              runner,
		Notifier:               a.dispatcher,
		Logger:                 a.logger.With("component", "webhooks"),
		Events:                 a.metrics.WebhookEvents,
		Outcomes:               a.metrics.CallOutcomes,
	}))
}

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}

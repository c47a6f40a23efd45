package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/ruyacapital/ruya-assistant/internal/handlers"
	"github.com/ruyacapital/ruya-assistant/internal/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, WebSocket and Telegram channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	log.Info("Starting Ruya assistant...")

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Error("Failed to close services")
		}
	}()

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	defer rateLimiter.Close()
	security := middleware.NewSecurityMiddleware(cfg.Assistant.MaxMessageBytes, log)
	sessions := handlers.NewSessions(a.registry, a.storage)

	router := mux.NewRouter()
	api := handlers.NewChatHandler(sessions, a.retriever, rateLimiter, security, a.localizer, a.metrics, cfg.Server.AllowedOrigins, log)
	if err := api.TrustProxies(cfg.Server.TrustedProxies); err != nil {
		return err
	}
	api.Register(router)
	router.Handle("/ws/chat", handlers.NewWSHandler(sessions, rateLimiter, security, a.localizer, a.metrics, cfg.Server.AllowedOrigins, log))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	servers := []*http.Server{{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}}
	if cfg.Monitoring.Metrics.Enabled {
		servers = append(servers, middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path))
	}

	var telegram *handlers.TelegramHandler
	if cfg.Telegram.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return fmt.Errorf("failed to create telegram bot: %w", err)
		}
		bot.Debug = cfg.Logging.Level == "debug"
		log.WithField("username", bot.Self.UserName).Info("Bot authorized")

		telegram = handlers.NewTelegramHandler(bot, sessions, rateLimiter, security, a.localizer, a.metrics, cfg.Assistant.DefaultLanguage, log)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		eg.Go(func() error {
			log.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if telegram != nil {
		eg.Go(func() error {
			return telegram.Run(egCtx, cfg.Telegram.UpdateTimeout)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		log.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).WithField("addr", srv.Addr).Error("Failed to shut down server")
			}
		}
		return nil
	})

	log.WithFields(logrus.Fields{
		"port":      cfg.Server.Port,
		"telegram":  cfg.Telegram.Enabled,
		"knowledge": cfg.Knowledge.Source,
		"storage":   cfg.Storage.Type,
	}).Info("Assistant started")

	err = eg.Wait()
	log.Info("Assistant stopped")
	return err
}

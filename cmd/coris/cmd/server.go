package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/lecorbeaured/corisapp/api"
	"github.com/lecorbeaured/corisapp/auth"
	"github.com/lecorbeaured/corisapp/config"
	"github.com/lecorbeaured/corisapp/mailer"
	"github.com/lecorbeaured/corisapp/storage/postgres"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the bill-tracking API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
		slog.SetDefault(logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.DatabaseDSN)
		cancel()
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer repo.Close()

		policy := auth.CookiePolicy{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
		}
		sessions := auth.NewSessionManager(auth.NewTokenCodec([]byte(cfg.JWTSecret)), repo, policy)
		csrf := auth.NewCSRFGuard(policy, cfg.CSRFEnabled)

		mail := mailer.New(mailer.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		}, logger)

		a := api.New(repo, sessions, csrf,
			api.WithLogger(logger),
			api.WithMailer(mail),
			api.WithPublicURL(cfg.PublicURL),
		)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ok":true}`))
		})

		r.Mount("/v1", a.Router())

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("server started", "addr", cfg.Addr)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

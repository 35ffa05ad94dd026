package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/api"
	"github.com/sells-group/needscore/internal/config"
	"github.com/sells-group/needscore/internal/inference"
)

const shutdownTimeout = 10 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve aggregates, risk scores and summaries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		handler, err := buildHandler(ctx, cfg)
		if err != nil {
			return err
		}

		router := api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimit:      cfg.Server.RateLimit,
			Burst:          cfg.Server.Burst,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildHandler loads inputs and the model. A missing or incompatible model
// is not fatal: the handler serves unscored rows with a warning.
func buildHandler(ctx context.Context, c *config.Config) (*api.Handler, error) {
	in, err := loadInputs(ctx, c)
	if err != nil {
		return nil, err
	}

	m, err := inference.Load(c.Model.Path, c.Model.Features)
	if err != nil {
		if !inference.IsModelUnavailable(err) {
			return nil, err
		}
		zap.L().Warn("serve: risk model unavailable, serving unscored rows", zap.Error(err))
		return api.New(in.records, in.index, nil, err), nil
	}
	return api.New(in.records, in.index, inference.New(m), nil), nil
}

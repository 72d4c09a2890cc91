package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-harvest/internal/harvest"
	"github.com/sells-group/address-harvest/internal/httpapi"
	"github.com/sells-group/address-harvest/pkg/overpass"
)

var servePort int

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the address-search HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := newStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(ctx); err != nil {
			return err
		}

		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Blob.Addr,
			Password: cfg.Blob.Password,
			DB:       cfg.Blob.DB,
		})
		defer rdb.Close()
		blob := harvest.NewRedisBlobStore(rdb, cfg.Blob.KeyPrefix)

		client := overpass.NewClient(
			overpass.WithBaseURL(cfg.Overpass.BaseURL),
			overpass.WithTimeout(time.Duration(cfg.Overpass.TimeoutSecs)*time.Second),
			overpass.WithRateLimit(cfg.Overpass.RatePerSec),
		)

		runner := harvest.NewGoRunner(cfg.Harvest.MaxConcurrentJobs)
		orch := harvest.NewOrchestrator(store, blob, client, runner, harvest.Thresholds{
			ChunkAreaSqMi: cfg.Harvest.ChunkAreaSqMi,
			MaxAreaSqMi:   cfg.Harvest.MaxAreaSqMi,
			BlobThreshold: cfg.Harvest.BlobThreshold,
		})
		reader := harvest.NewReader(store, blob, cfg.Harvest.DefaultPageSize, cfg.Harvest.MaxPageSize)
		streamer := harvest.NewStreamer(store, reader,
			time.Duration(cfg.Harvest.StreamPollSecs)*time.Second,
			cfg.Harvest.StreamMaxPolls,
			cfg.Harvest.StreamBatchSize,
		)

		handler := httpapi.NewHandler(orch, reader, streamer, store)

		port := resolvePort(servePort, cfg.Server.Port)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: handler.Router(cfg.Server.AllowedOrigins),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

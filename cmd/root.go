package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/address-harvest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "address-harvest",
	Short: "Asynchronous address-harvesting job service",
	Long:  "Accepts geographic search requests (radius, polygon, or postal codes), harvests matching addresses from the Overpass API in the background, and serves results via cursor pagination and SSE streams.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

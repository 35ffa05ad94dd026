package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/needscore/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "needscore",
	Short: "Neighborhood service-need aggregation and risk scoring",
	Long:  "Joins geotagged complaint records to neighborhood regions, aggregates need indicators per region, and trains and serves a high-need risk model.",
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

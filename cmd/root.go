package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/payops-sentinel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "payops-sentinel",
	Short: "Payment routing anomaly monitor with human-approved reroutes",
	Long: "Tails the payment transaction log, detects clustered gateway failures, proposes a routing change " +
		"and applies it only after explicit approval. Sessions pause at approval and resume from persisted state.",
	SilenceUsage: true,
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

var threadID string

func init() {
	rootCmd.PersistentFlags().StringVar(&threadID, "thread", "default", "session thread ID")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mmrag/config"
	"mmrag/internal/observability"
)

var (
	cfgFile  string
	cfg      *config.Config
	rootDir  string
	identity string
	logger   *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mmrag",
	Short: "Multimodal retrieval over shared and private namespaces",
	Long: `mmrag ingests text and images into a vector index, retrieves the most
relevant content for a text or image query across the shared namespace and
the caller's private namespace, and assembles it into a bounded context for
answer generation.

Example usage:
  mmrag ingest ./docs                       # Ingest a directory into the shared namespace
  mmrag ingest ./notes --identity alice     # Ingest into alice's private namespace
  mmrag query -q "sky color" --identity alice
  mmrag serve                               # Serve the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./mmrag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "root directory (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "caller identity; empty means anonymous (shared namespace only)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

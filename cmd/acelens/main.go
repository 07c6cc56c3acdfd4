package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexcodex/acelens/framework/apimap"
	"github.com/lexcodex/acelens/internal/acelens/runtime"
)

var (
	flagWorkspace string
	flagConfig    string
	flagVariant   string
	flagLog       string
	flagLogEvents bool
)

func main() {
	_ = godotenv.Load()
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "acelens",
		Short:         "Code lenses linking @ace/apis calls to their loader implementations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", envOrDefault("ACELENS_WORKSPACE", ""), "Workspace root (defaults to the current directory)")
	root.PersistentFlags().StringVar(&flagConfig, "config", envOrDefault("ACELENS_CONFIG", ""), "Path to an .acelens.yaml config file")
	root.PersistentFlags().StringVar(&flagVariant, "variant", "", "Declaration extraction variant (call, keyed)")
	root.PersistentFlags().StringVar(&flagLog, "log", envOrDefault("ACELENS_LOG", ""), "Append logs to this file as well as stderr")
	root.PersistentFlags().BoolVar(&flagLogEvents, "log-events", false, "Log every telemetry event")

	root.AddCommand(newServeCmd(), newMapCmd(), newLensesCmd(), newInitCmd())
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig layers defaults, the config file, and flags.
func loadConfig() (runtime.Config, error) {
	cfg := runtime.DefaultConfig()
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	if flagConfig != "" {
		if err := cfg.LoadFile(flagConfig); err != nil {
			return cfg, err
		}
	} else if err := cfg.LoadWorkspaceFile(cfg.Workspace); err != nil {
		return cfg, err
	}
	if flagVariant != "" {
		cfg.Variant = apimap.Variant(flagVariant)
	}
	if flagLog != "" {
		cfg.LogPath = flagLog
	}
	if flagLogEvents {
		cfg.LogEvents = true
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newRuntime(ctx context.Context) (*runtime.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return runtime.New(ctx, cfg)
}

func newServeCmd() *cobra.Command {
	var metricsAddr string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the language server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			if noWatch {
				cfg.Watch = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.ServeStdio(ctx)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not watch the api sources for changes")
	return cmd
}

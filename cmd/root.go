package cmd

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/greenshelf/strainscan/internal/config"
	"github.com/greenshelf/strainscan/internal/logging"
)

// app carries state resolved once in PersistentPreRunE
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "strainscan",
		Short: "Identify and enrich cannabis products from images, text or voice",
		Long: `Strainscan identifies products from label photos or free-text queries using
vision-capable LLMs (Ollama, OpenAI or Gemini), enriches them with terpene and
effect profiles, and keeps a per-operator catalog.

It can run as a web service with continuous camera scanning, or as a CLI for
one-off identification and catalog maintenance.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a TOML configuration file")

	// Add subcommands
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIdentifyCmd(a))
	cmd.AddCommand(newScanCmd(a))
	cmd.AddCommand(newDedupeCmd(a))
	cmd.AddCommand(newConfigCmd(a))

	return cmd
}

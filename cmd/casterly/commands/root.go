// Package commands implements the casterly command line interface.
package commands

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/casterly/internal/config"
	"github.com/aristath/casterly/internal/services"
	"github.com/aristath/casterly/pkg/logger"
)

var (
	// Version, Commit, and BuildDate are set at build time via ldflags.
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	verbose bool

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "casterly",
	Short: "Casterly replays trading history through a meritocratic top-cohort rotation",
	Long: `Casterly is a day-by-day simulation engine. It reads agent trading
history from a source database, ranks agents over a sliding ROI window,
rotates a fixed-size top cohort, and drives simulated client accounts
through the winners. Everything derived lands in a results database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		log = logger.New(logger.Config{Level: level, Pretty: cfg.DevMode, File: cfg.LogFile})
		logger.SetGlobalLogger(log)

		log.Debug().
			Str("version", Version).
			Str("commit", Commit).
			Str("build_date", BuildDate).
			Msg("casterly starting")
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// openContainer wires the application against the configured databases.
// The caller owns Close.
func openContainer() (*services.Container, error) {
	return services.New(cfg, log)
}

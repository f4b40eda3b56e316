package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/manual-processor/cmd/manual-processor/ui"
	"github.com/spherical/manual-processor/internal/config"
	"github.com/spherical/manual-processor/internal/observability"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "manual-processor",
	Short: "Manual Processor - turn PDF product manuals into English reference markdown",
	Long: `The Manual Processor finds the most useful language section of a multilingual
PDF manual, transcribes its pages with a vision model, translates the text to
English when needed and writes a reference markdown document with cropped figures.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.InitUI(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults to $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return config.Load(path)
}

// newLogger keeps service logs quiet unless --verbose is set; the job log is
// what the user watches.
func newLogger(cfg *config.Config) *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}

	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

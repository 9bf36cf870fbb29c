// Command doran runs the university information-desk answer engine: an HTTP
// chat server, an interactive console and the offline authoring tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"doran/internal/config"
	"doran/internal/observability"
)

var (
	cfgFile    string
	outputJSON bool
	verbose    bool

	cfg    *config.AppConfig
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "doran",
	Short: "DORAN answers campus questions from keyword rules, FAQs, locations and visuals",
	Long: `DORAN matches free-text questions against the campus knowledge base and
answers with the best rule, an email directory entry, or a fallback.

Use this tool to:
- serve the chat and admin API over HTTP
- chat with the engine in the terminal
- seed a store from a YAML file
- generate questions for location and visual rules`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		if cfgFile == "" {
			cfg, _, err = config.LoadDefault()
		} else {
			cfg, err = config.Load(cfgFile)
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		format := cfg.Log.Format
		if outputJSON {
			format = "json"
		}
		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger = observability.NewLogger(observability.LogConfig{Level: level, Format: format})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml, then ~/.config/doran/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "log in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newAskCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newNormalizeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

/**
 * cardscan - card photo recognition to card page
 *
 * Reads the text on a photographed card, resolves it against Scryfall and
 * hands the card page to the surface that took the photo.
 *
 * Commands:
 * - scan:    one photo from disk, print (or open) the resolved card page
 * - serve:   HTTP surface API plus capture queue workers
 * - submit:  push a photo onto the capture queue for a remote surface
 * - history: recorded sessions of a surface
 */

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/BJohnRogers/FinalVision/internal/config"
	"github.com/BJohnRogers/FinalVision/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	noColor  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cardscan",
	Short: "Recognize a photographed card and open its card page",
	Long: `cardscan reads the text printed on a photographed trading card, looks the
text up with a fuzzy card-name search and returns the matching card page.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Optional; existing environment variables are never overridden
		for _, file := range []string{".env.cardscan", ".env"} {
			_ = godotenv.Load(file)
		}

		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		logging.Configure(loaded.LogLevel, loaded.LogFormat, os.Stderr)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(scanCmd, serveCmd, submitCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errUnresolved) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

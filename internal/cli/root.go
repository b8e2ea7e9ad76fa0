// Package cli provides the command-line interface for memu.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memu-go/internal/app"
	"github.com/raphaelgruber/memu-go/internal/client"
	"github.com/raphaelgruber/memu-go/internal/config"
)

var (
	// Global flags
	verbose bool
	apiURL  string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "memu",
	Short: "Conversational memory service",
	Long: `Memu stores conversations, extracts the facts worth remembering and
answers semantic queries over them.

Run 'memu serve' to start the HTTP server, then use 'memorize' and
'retrieve' to talk to it.`,
	Version:       app.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		endpoint := apiURL
		if endpoint == "" {
			endpoint = cfg.APIURL
		}
		apiClient = client.New(endpoint)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "server URL (default $MEMU_API_URL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(memorizeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(statsCmd)
}

// readInput returns the literal flag value, or the named file's contents
// when the value starts with "@".
func readInput(value string) ([]byte, error) {
	if len(value) > 1 && value[0] == '@' {
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		return data, nil
	}
	return []byte(value), nil
}

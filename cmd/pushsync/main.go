package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/cmd/pushsync/commands"
	"github.com/peergrade/pushsync/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pushsync",
	Short: "pushsync - push notification subscription reconciliation",
	Long: `pushsync keeps three sources of push notification state convergent:
platform permission, the platform-held subscription, and the server-side
record with per-category preferences.

Available commands:
  serve   - Start the pushsync relay server
  agent   - Run the background agent (holds the server connection, renders payloads)
  status  - Reconcile and report the current subscription state
  enable  - Enable push notifications (prompts for permission when undecided)
  disable - Disable push notifications
  prefs   - Show or change per-category delivery preferences
  send    - Deliver a push payload through the server
  token   - Mint agent access tokens

Examples:
  pushsync serve                          # Start the relay server
  pushsync token mint --user alice        # Mint a token for alice's agent
  pushsync agent                          # Run the agent with the configured token
  pushsync status                         # One reconciliation pass, print the result
  pushsync prefs set deadline-reminder off`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.AgentCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.EnableCmd)
	rootCmd.AddCommand(commands.DisableCmd)
	rootCmd.AddCommand(commands.PrefsCmd)
	rootCmd.AddCommand(commands.SendCmd)
	rootCmd.AddCommand(commands.TokenCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

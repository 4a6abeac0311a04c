package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	agentpkg "github.com/peergrade/pushsync/agent"
	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/logger"
)

// AgentCmd runs the background agent.
var AgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background push agent",
	Long: `Run the agent process: holds the WebSocket connection to the relay
server, renders incoming payloads, and reports platform-side subscription
revocation so the server record stays honest.`,
	RunE: runAgent,
}

var agentToken string

func init() {
	AgentCmd.Flags().StringVar(&agentToken, "token", "", "Bearer token (overrides config)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token := cfg.Client.Token
	if agentToken != "" {
		token = agentToken
	}
	if token == "" {
		return errors.New("no token configured; mint one with 'pushsync token mint' and set client.token")
	}

	runner := agentpkg.NewRunner(
		cfg.Agent.ServerURL,
		token,
		&agentpkg.LogHandler{Logger: logger.Logger},
		logger.Logger,
		agentpkg.WithReconnectInterval(time.Duration(cfg.Agent.ReconnectSeconds)*time.Second),
		agentpkg.WithPlatform(newLocalPlatform(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printf("Agent connecting to %s (Ctrl+C to stop)\n", cfg.Agent.ServerURL)
	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "agent stopped")
	}
	pterm.Success.Println("Agent stopped")
	return nil
}

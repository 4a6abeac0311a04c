package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/db"
	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/logger"
	"github.com/peergrade/pushsync/server"
	"github.com/peergrade/pushsync/version"
)

// ServeCmd starts the pushsync relay server.
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the pushsync relay server",
	Long:    `Start the HTTP and WebSocket relay server: subscription records, preference storage, and payload fan-out to connected agents.`,
	RunE:    runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dbPath := cfg.Database.Path
	if serveDBPath != "" {
		dbPath = serveDBPath
	}
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	srv, err := server.NewPushServer(database, cfg, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	info := version.Get()
	pterm.DefaultSection.Println("pushsync relay")
	pterm.Info.Printf("Version:  %s (commit %s)\n", info.Version, info.Short())
	pterm.Info.Printf("Database: %s\n", dbPath)
	pterm.Info.Printf("Port:     %d\n", port)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server failed to start")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}

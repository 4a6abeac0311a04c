package commands

import (
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/db"
	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/logger"
	"github.com/peergrade/pushsync/store"
)

// TokenCmd manages agent access tokens.
var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint agent access tokens",
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint a bearer token for a user's agent",
	Long:  `Insert a fresh bearer token into the server database. Hand the token to the user's agent via client.token in the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenUser == "" {
			return errors.New("--user is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
		if err != nil {
			return errors.Wrap(err, "failed to open database")
		}
		defer database.Close()

		token := uuid.NewString()
		expiresAt := time.Now().Add(tokenTTL)
		if err := store.NewTokenStore(database).Insert(cmd.Context(), token, tokenUser, expiresAt); err != nil {
			return errors.Wrap(err, "failed to store token")
		}

		pterm.Success.Printf("Token for %s (expires %s):\n", tokenUser, expiresAt.Format(time.RFC3339))
		pterm.Println(token)
		return nil
	},
}

func init() {
	tokenMintCmd.Flags().StringVar(&tokenUser, "user", "", "User ID the token authenticates")
	tokenMintCmd.Flags().DurationVar(&tokenTTL, "ttl", 90*24*time.Hour, "Token lifetime")
	TokenCmd.AddCommand(tokenMintCmd)
}

package commands

import (
	"github.com/spf13/cobra"
)

// EnableCmd turns push notifications on for this user.
var EnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable push notifications",
	Long: `Enable push notifications: request platform permission when undecided,
create the subscription, and register it with the server. Denied permission
is respected and never re-prompted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res := newEngine(cfg).Enable(cmd.Context())
		printResult(res)
		return res.Err
	},
}

// DisableCmd turns push notifications off for this user.
var DisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable push notifications",
	Long:  `Destroy the platform subscription and remove the server record. Safe to repeat; an already-disabled state is success.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res := newEngine(cfg).Disable(cmd.Context())
		printResult(res)
		return res.Err
	},
}

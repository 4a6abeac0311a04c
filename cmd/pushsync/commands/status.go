package commands

import (
	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/reconcile"
)

// StatusCmd runs one reconciliation pass and prints the result.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Reconcile and report the current subscription state",
	Long:  `Read permission, subscription, and server record fresh, repair drift where safe, and print the converged state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		res := newEngine(cfg).Run(cmd.Context(), reconcile.TriggerLoad)
		printResult(res)
		return nil
	},
}

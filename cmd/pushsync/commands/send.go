package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/prefs"
)

// SendCmd delivers a push payload through the server.
var SendCmd = &cobra.Command{
	Use:   "send <title>",
	Short: "Deliver a push payload through the server",
	Long:  `Ask the server to push a payload to a user's connected agents. Without --user the payload targets the authenticated user, which makes this a quick end-to-end check.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSend,
}

var (
	sendUser     string
	sendBody     string
	sendURL      string
	sendCategory string
)

func init() {
	SendCmd.Flags().StringVar(&sendUser, "user", "", "Target user ID (defaults to the authenticated user)")
	SendCmd.Flags().StringVar(&sendBody, "body", "", "Notification body text")
	SendCmd.Flags().StringVar(&sendURL, "url", "", "URL opened when the notification is clicked")
	SendCmd.Flags().StringVar(&sendCategory, "category", "", "Notification category (subject to the target's preferences)")
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	result, err := newClient(cfg).Send(cmd.Context(),
		sendUser, args[0], sendBody, sendURL, prefs.Category(sendCategory))
	if err != nil {
		return err
	}

	if result.Suppressed {
		pterm.Info.Println("Delivery suppressed by the target's preferences")
		return nil
	}
	if result.Delivered == 0 {
		pterm.Warning.Println("No agents connected; nothing was delivered")
		return nil
	}
	pterm.Success.Printf("Delivered to %d agent(s)\n", result.Delivered)
	return nil
}

package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/prefs"
)

// PrefsCmd manages per-category delivery preferences.
var PrefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change per-category delivery preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current preference record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rec, err := newClient(cfg).GetPreferences(cmd.Context())
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				pterm.Info.Println("No preference record yet; subscribe first with 'pushsync enable'")
				return nil
			}
			return err
		}
		printRecord(*rec)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <category> <on|off>",
	Short: "Turn one notification category on or off",
	Long: `Turn delivery for one category on or off. Categories:
  review-received, deadline-reminder, feedback-received, meta-review`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		category := prefs.Category(args[0])
		var on bool
		switch args[1] {
		case "on":
			on = true
		case "off":
			on = false
		default:
			return errors.Newf("expected 'on' or 'off', got %q", args[1])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := newClient(cfg)
		current, err := client.GetPreferences(cmd.Context())
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return errors.New("no preference record yet; subscribe first with 'pushsync enable'")
			}
			return err
		}

		var patch prefs.Patch
		if err := patch.Set(category, on); err != nil {
			return err
		}

		updated, err := newEngine(cfg).Toggle(cmd.Context(), *current, patch)
		if err != nil {
			pterm.Error.Printf("Change rejected, preferences unchanged: %v\n", err)
			printRecord(updated)
			return err
		}
		printRecord(updated)
		return nil
	},
}

func init() {
	PrefsCmd.AddCommand(prefsShowCmd)
	PrefsCmd.AddCommand(prefsSetCmd)
}

func printRecord(rec prefs.Record) {
	rows := pterm.TableData{{"Category", "Delivery"}}
	for _, c := range prefs.Categories {
		state := "off"
		if rec.Enabled(c) {
			state = "on"
		}
		rows = append(rows, []string{string(c), state})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		pterm.Printf("%+v\n", rec)
	}
}

package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"

	"github.com/peergrade/pushsync/config"
	"github.com/peergrade/pushsync/errors"
	"github.com/peergrade/pushsync/internal/httpclient"
	"github.com/peergrade/pushsync/logger"
	"github.com/peergrade/pushsync/platform"
	"github.com/peergrade/pushsync/reconcile"
	"github.com/peergrade/pushsync/syncclient"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

func newClient(cfg *config.Config) *syncclient.Client {
	// The relay URL comes from the operator's own config file, so loopback
	// targets are legitimate here.
	hc := httpclient.NewSaferClient(15 * time.Second).AllowPrivate()
	return syncclient.New(
		cfg.Client.ServerURL,
		syncclient.StaticCredential(cfg.Client.Token),
		syncclient.WithUserAgent(cfg.Client.UserAgent),
		syncclient.WithHTTPClient(hc),
	)
}

// terminalPrompt answers the platform permission prompt interactively.
// Declining is a normal outcome, not an error.
func terminalPrompt(ctx context.Context) (bool, error) {
	granted, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText("Allow push notifications from this application?").
		Show()
	if err != nil {
		return false, errors.Wrap(err, "permission prompt failed")
	}
	return granted, nil
}

func newLocalPlatform(cfg *config.Config) *platform.LocalPlatform {
	return platform.NewLocalPlatform(
		cfg.Agent.StatePath,
		cfg.Client.ServerURL+"/push",
		terminalPrompt,
		logger.Logger,
	)
}

func newEngine(cfg *config.Config) *reconcile.Engine {
	return reconcile.NewEngine(newLocalPlatform(cfg), newClient(cfg), logger.Logger)
}

// printResult renders one reconciliation result for the terminal.
func printResult(res reconcile.Result) {
	rows := pterm.TableData{
		{"Status", string(res.Status)},
		{"Permission", string(res.Permission)},
		{"Subscribed", yesNo(res.BrowserSubscribed)},
		{"Server record", yesNo(res.ServerSynced)},
	}
	if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
		pterm.Printf("status: %s\n", res.Status)
	}

	switch res.Status {
	case reconcile.StatusSynced:
		pterm.Success.Println("Push notifications are enabled and in sync")
	case reconcile.StatusDisabled:
		pterm.Info.Println("Push notifications are off; run 'pushsync enable' to turn them on")
	case reconcile.StatusNeedsPermission:
		pterm.Info.Println("Run 'pushsync enable' to request permission")
	case reconcile.StatusBlocked:
		pterm.Warning.Println("Notifications are blocked at the platform level; re-enable them there first")
	case reconcile.StatusRepairNeeded:
		pterm.Warning.Println("Server record is out of sync; it will be repaired on the next run")
	case reconcile.StatusUnsupported:
		pterm.Warning.Println("This platform does not support push notifications")
	}

	if res.Err != nil {
		pterm.Error.Printf("Last action failed: %v\n", res.Err)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

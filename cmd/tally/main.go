// Command tally is an offline-first habit tracker.
//
// Every mutation lands in the local store first and is queued for delivery
// to the configured remote store; the daemon keeps the two reconciled in
// the background.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/config"
	"github.com/tallyapp/tally/internal/remote"
	"github.com/tallyapp/tally/internal/store"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Offline-first habit tracking",
	Long: `tally tracks daily habits (binary, numeric, or multi-step progress)
with an offline-first core: every change is durable locally before any
network is involved, and a background sync engine reconciles with the
remote store when connectivity allows.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	rootCmd.AddGroup(
		&cobra.Group{ID: "habits", Title: "Habit Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

// loadConfig resolves configuration or exits.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// openStore opens the local database or exits. A migration failure is not
// fatal to the process model, but without the local store there is nothing
// tally can do, so the commands stop here and say why.
func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
		os.Exit(1)
	}
	return st
}

// newRemote returns the remote client, or nil when no remote is configured
// (local-only mode).
func newRemote(cfg *config.Config) *remote.Client {
	if cfg.Remote.BaseURL == "" {
		return nil
	}
	return remote.New(&remote.Config{
		BaseURL:    cfg.Remote.BaseURL,
		HealthPath: cfg.Remote.HealthPath,
		Timeout:    cfg.Remote.Timeout,
	})
}

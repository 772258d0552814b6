package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally/internal/config"
	"github.com/tallyapp/tally/internal/connectivity"
	"github.com/tallyapp/tally/internal/reconcile"
	"github.com/tallyapp/tally/internal/store"
	"github.com/tallyapp/tally/internal/syncer"
	"github.com/tallyapp/tally/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Drain the pending-write queue now",
	Long: `Attempt delivery of every queued mutation to the remote store.
Items that fail stay queued; a later sync (or the daemon) picks them up.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		rc := newRemote(cfg)
		if rc == nil {
			fmt.Fprintln(os.Stderr, "Error: no remote configured (set remote.base_url)")
			os.Exit(1)
		}

		s := syncer.New(st, rc, &syncer.Config{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BackoffBase: cfg.Sync.BackoffBase,
			MaxWorkers:  cfg.Sync.MaxWorkers,
		})

		result, err := s.DrainNow(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		switch {
		case result.Total == 0:
			fmt.Printf("%s Nothing to sync\n", ui.RenderPass("✓"))
		case result.Synced == result.Total:
			fmt.Printf("%s Synced %d mutation(s)\n", ui.RenderPass("✓"), result.Synced)
		default:
			fmt.Printf("%s Synced %d of %d mutation(s); the rest stay queued\n",
				ui.RenderWarn("!"), result.Synced, result.Total)
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show connectivity and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		st := openStore(cfg)
		defer st.Close()

		ctx := cmd.Context()

		rc := newRemote(cfg)
		if rc == nil {
			fmt.Printf("Remote:       %s\n", ui.RenderMuted("not configured (local-only)"))
		} else {
			mcfg := connectivity.DefaultConfig(rc.HealthURL())
			mcfg.ProbeTimeout = cfg.Probe.Timeout
			mcfg.GraceWindow = cfg.Probe.Grace
			mcfg.Logger = log.New(io.Discard, "", 0)
			mon := connectivity.New(mcfg)
			if mon.CheckNow(ctx) {
				fmt.Printf("Remote:       %s %s\n", ui.RenderPass("online"), ui.RenderMuted(cfg.Remote.BaseURL))
			} else {
				fmt.Printf("Remote:       %s %s\n", ui.RenderFail("offline"), ui.RenderMuted(cfg.Remote.BaseURL))
			}
		}

		count, err := st.CountPending(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if count == 0 {
			fmt.Printf("Queue:        %s\n", ui.RenderPass("empty"))
		} else {
			fmt.Printf("Queue:        %s\n", ui.RenderWarn(fmt.Sprintf("%d pending mutation(s)", count)))
		}

		lastSync, lastResult, err := st.LastSync(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if lastSync.IsZero() {
			fmt.Printf("Last sync:    %s\n", ui.RenderMuted("never"))
		} else {
			fmt.Printf("Last sync:    %s %s\n", humanAgo(lastSync), ui.RenderMuted("("+lastResult+")"))
		}

		lastOffline, err := st.LastOffline(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if !lastOffline.IsZero() {
			fmt.Printf("Last offline: %s\n", humanAgo(lastOffline))
		}
	},
}

// humanAgo renders a timestamp as a rough relative age.
func humanAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// remoteLister adapts the optional remote client for the merger. Returning
// the client directly when it is nil would hand the merger a non-nil
// interface wrapping a nil pointer.
func remoteLister(cfg *config.Config) reconcile.RemoteLister {
	rc := newRemote(cfg)
	if rc == nil {
		return nil
	}
	return rc
}

// attemptImmediateSync drains the queue right after a CLI write so the
// common online case syncs without waiting for the daemon. Failures are
// soft: the mutation is already durable and queued.
func attemptImmediateSync(ctx context.Context, cfg *config.Config, st *store.Store) {
	rc := newRemote(cfg)
	if rc == nil {
		return
	}

	drainCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	s := syncer.New(st, rc, &syncer.Config{
		MaxAttempts: 1,
		MaxWorkers:  cfg.Sync.MaxWorkers,
		Logger:      log.New(io.Discard, "", 0),
	})
	result, err := s.DrainNow(drainCtx)
	if err != nil {
		if errors.Is(err, syncer.ErrDrainInProgress) {
			return
		}
		fmt.Println(ui.RenderMuted("  (saved locally, will sync later)"))
		return
	}
	if result.Total > 0 && result.Synced == result.Total {
		fmt.Println(ui.RenderMuted("  synced"))
	} else if result.Synced < result.Total {
		fmt.Println(ui.RenderMuted("  (saved locally, will sync later)"))
	}
}

func init() {
	rootCmd.AddCommand(syncCmd, statusCmd)
}

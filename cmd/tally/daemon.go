package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tallyapp/tally/internal/connectivity"
	"github.com/tallyapp/tally/internal/daemon"
	"github.com/tallyapp/tally/internal/hub"
	"github.com/tallyapp/tally/internal/reconcile"
	"github.com/tallyapp/tally/internal/scheduler"
	"github.com/tallyapp/tally/internal/syncer"
)

var daemonForeground bool

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the resident sync daemon",
	Long: `Run the background process that monitors connectivity, drains the
pending-write queue on reconnect and on a polling schedule, watches the
import directory, and serves the local WebSocket hub for UI surfaces.

Logs rotate at ` + "`<data_dir>/daemon.log`" + ` unless --foreground is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		rc := newRemote(cfg)
		if rc == nil {
			return fmt.Errorf("no remote configured (set remote.base_url); the daemon has nothing to sync against")
		}

		var logOut io.Writer = os.Stderr
		if !daemonForeground {
			logOut = &lumberjack.Logger{
				Filename:   cfg.LogPath(),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     14, // days
			}
		}

		st := openStore(cfg)
		defer st.Close()

		monitorCfg := connectivity.DefaultConfig(rc.HealthURL())
		monitorCfg.ProbeInterval = cfg.Probe.Interval
		monitorCfg.ProbeTimeout = cfg.Probe.Timeout
		monitorCfg.GraceWindow = cfg.Probe.Grace
		monitorCfg.Recorder = st
		monitorCfg.Logger = log.New(logOut, "[connectivity] ", log.LstdFlags)
		monitor := connectivity.New(monitorCfg)

		merger := reconcile.New(st, rc, monitor, log.New(logOut, "[merge] ", log.LstdFlags))

		hubServer := hub.NewServer(&hub.Config{
			Addr:   cfg.Daemon.ListenAddr,
			Merger: merger,
			Logger: log.New(logOut, "[hub] ", log.LstdFlags),
		})

		sy := syncer.New(st, rc, &syncer.Config{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BackoffBase: cfg.Sync.BackoffBase,
			MaxWorkers:  cfg.Sync.MaxWorkers,
			OnComplete:  hubServer.BroadcastSyncComplete,
			Logger:      log.New(logOut, "[sync] ", log.LstdFlags),
		})

		poller := scheduler.NewPoller(sy, cfg.Sync.PollInterval,
			log.New(logOut, "[poll] ", log.LstdFlags))

		d, err := daemon.New(st, sy, monitor, poller, hubServer, &daemon.Config{
			ImportDir: cfg.Daemon.ImportDir,
			Logger:    log.New(logOut, "[daemon] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		if err := hubServer.Start(); err != nil {
			return fmt.Errorf("failed to start hub: %w", err)
		}
		defer hubServer.Stop()

		fmt.Printf("Daemon running (hub on %s). Ctrl-C to stop.\n", hubServer.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "log to stderr instead of the rotated log file")
	rootCmd.AddCommand(daemonCmd)
}

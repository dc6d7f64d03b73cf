package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/NickEvans4130/Ransomware-Detection-System/engine"
	"github.com/NickEvans4130/Ransomware-Detection-System/intake"
	"github.com/NickEvans4130/Ransomware-Detection-System/ui"
)

var monitorTUI bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the ingest, analysis, and response pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Monitor.WatchDirectories) == 0 {
			return ExitCodeError{Code: ExitConfig, Msg: "monitor.watch_directories is empty; nothing to watch"}
		}

		daemon, err := engine.NewDaemon(cfg, intake.NullAttributor{}, logger)
		if err != nil {
			return ioError(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		interrupted := false
		go func() {
			<-sigCh
			interrupted = true
			cancel()
		}()

		if monitorTUI {
			sub := daemon.Bus().Subscribe("tui", 0)
			errCh := make(chan error, 1)
			go func() { errCh <- daemon.Run(ctx) }()
			if err := ui.Run(daemon.Analyzer().Snapshot, sub); err != nil {
				logger.Warn("status view exited", "error", err)
			}
			cancel()
			if err := <-errCh; err != nil {
				return ioError(err)
			}
		} else {
			if err := daemon.Run(ctx); err != nil {
				return ioError(err)
			}
		}

		if interrupted {
			return ExitCodeError{Code: ExitInterrupted, Msg: "interrupted"}
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "render the live status view instead of plain logs")
}

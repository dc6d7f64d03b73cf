// Package cmd implements the ransomd command line surface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NickEvans4130/Ransomware-Detection-System/config"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

// Exit codes.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitIO          = 2
	ExitPermission  = 3
	ExitInterrupted = 130
)

// ExitCodeError carries a process exit code without extra error noise.
type ExitCodeError struct {
	Code int
	Msg  string
}

func (e ExitCodeError) Error() string { return e.Msg }

var (
	cfgFile  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "ransomd",
	Short:   "Host-resident behavioral ransomware detector and responder",
	Long: `ransomd watches chosen directory trees, attributes file activity to
processes, scores behavior against a weighted indicator model, and escalates
from monitoring through backup, suspension, and termination with rollback
from its copy-on-write vault.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return ExitCodeError{Code: ExitConfig, Msg: err.Error()}
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		level, err := config.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return ExitCodeError{Code: ExitConfig, Msg: err.Error()}
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/ransomd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug|info|warning|error)")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
}

// Run executes the CLI and maps failures onto the exit-code contract.
func Run() error {
	return rootCmd.Execute()
}

// ioError wraps an error as an I/O-class exit.
func ioError(err error) error {
	if err == nil {
		return nil
	}
	if os.IsPermission(err) {
		return ExitCodeError{Code: ExitPermission, Msg: err.Error()}
	}
	return ExitCodeError{Code: ExitIO, Msg: err.Error()}
}

// printf writes to stdout; kept as a helper so commands stay terse.
func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}

package cmd

import (
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/NickEvans4130/Ransomware-Detection-System/vault"
)

var (
	vaultListPath    string
	vaultListProcess string
	vaultListSince   string

	vaultRestoreProcess  string
	vaultRestoreAllSince string
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Inspect and restore from the backup vault",
}

func openVault() (*vault.Vault, error) {
	v, err := vault.Open(cfg.Backup.VaultRoot, cfg.Backup.MinFreeMB, logger)
	if err != nil {
		return nil, ioError(err)
	}
	return v, nil
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ExitCodeError{Code: ExitConfig,
			Msg: "since must be a duration (48h) or RFC 3339 timestamp: " + s}
	}
	return t, nil
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backup entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		since, err := parseSince(vaultListSince)
		if err != nil {
			return err
		}
		entries, err := v.List(vault.ListFilter{
			Path:    vaultListPath,
			Process: vaultListProcess,
			Since:   since,
		})
		if err != nil {
			return ioError(err)
		}
		if len(entries) == 0 {
			printf("no entries\n")
			return nil
		}
		printf("%-6s %-22s %-10s %-16s %-8s %s\n", "ID", "TIME", "SIZE", "PROCESS", "REASON", "PATH")
		for _, e := range entries {
			printf("%-6d %-22s %-10s %-16s %-8s %s\n",
				e.ID,
				humanize.Time(e.Timestamp),
				humanize.Bytes(uint64(e.Size)),
				e.Process,
				string(e.Reason),
				e.OriginalPath)
		}
		return nil
	},
}

var vaultRestoreCmd = &cobra.Command{
	Use:   "restore [entry_id]",
	Short: "Restore by entry id, by process name, or everything since a time",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		switch {
		case len(args) == 1:
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return ExitCodeError{Code: ExitConfig, Msg: "entry id must be numeric: " + args[0]}
			}
			res := v.Restore(id)
			printRestore(res.Path, res.Success, res.IntegrityOK, res.Reason)
			if !res.Success {
				return ExitCodeError{Code: ExitIO, Msg: "restore failed"}
			}
		case vaultRestoreProcess != "":
			for _, res := range v.RestoreByProcess(vaultRestoreProcess) {
				printRestore(res.Path, res.Success, res.IntegrityOK, res.Reason)
			}
		case vaultRestoreAllSince != "":
			since, err := parseSince(vaultRestoreAllSince)
			if err != nil {
				return err
			}
			for _, res := range v.RestoreFiltered(vault.ListFilter{Since: since}) {
				printRestore(res.Path, res.Success, res.IntegrityOK, res.Reason)
			}
		default:
			return ExitCodeError{Code: ExitConfig, Msg: "need an entry id, --process, or --all-since"}
		}
		return nil
	},
}

func printRestore(path string, success, integrity bool, reason string) {
	status := "ok"
	switch {
	case !success:
		status = "FAILED"
	case !integrity:
		status = "INTEGRITY MISMATCH"
	}
	if reason != "" && status != "ok" {
		printf("%-20s %s (%s)\n", status, path, reason)
		return
	}
	printf("%-20s %s\n", status, path)
}

var vaultPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete entries older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := openVault()
		if err != nil {
			return err
		}
		defer v.Close()

		retention := time.Duration(cfg.Backup.RetentionHours) * time.Hour
		n, err := v.PurgeOlderThan(retention)
		if err != nil {
			return ioError(err)
		}
		printf("purged %d entries older than %s\n", n, retention)
		return nil
	},
}

func init() {
	vaultListCmd.Flags().StringVar(&vaultListPath, "path", "", "filter by original path")
	vaultListCmd.Flags().StringVar(&vaultListProcess, "process", "", "filter by responsible process name")
	vaultListCmd.Flags().StringVar(&vaultListSince, "since", "", "filter by age (duration like 24h, or RFC 3339)")

	vaultRestoreCmd.Flags().StringVar(&vaultRestoreProcess, "process", "", "restore the newest entry per path for this process")
	vaultRestoreCmd.Flags().StringVar(&vaultRestoreAllSince, "all-since", "", "restore everything captured since (duration or RFC 3339)")

	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultRestoreCmd)
	vaultCmd.AddCommand(vaultPurgeCmd)
}

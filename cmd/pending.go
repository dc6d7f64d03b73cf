package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/NickEvans4130/Ransomware-Detection-System/engine"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Confirm or deny safe-mode actions on a running monitor",
}

var pendingConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return dropDecision(args[0], "confirm") },
}

var pendingDenyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return dropDecision(args[0], "deny") },
}

// dropDecision writes a decision file into the monitor's control directory;
// the running daemon picks it up within its poll interval.
func dropDecision(rawID, decision string) error {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return ExitCodeError{Code: ExitConfig, Msg: "action id must be numeric: " + rawID}
	}
	dir := engine.ControlDir(cfg.DataDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ioError(err)
	}
	payload, err := json.Marshal(map[string]interface{}{"id": id, "decision": decision})
	if err != nil {
		return ioError(err)
	}
	name := fmt.Sprintf("%s-%d-%d.json", decision, id, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), payload, 0600); err != nil {
		return ioError(err)
	}
	printf("%s queued for action %d\n", decision, id)
	return nil
}

func init() {
	pendingCmd.AddCommand(pendingConfirmCmd)
	pendingCmd.AddCommand(pendingDenyCmd)
}

// Package proc wraps OS process control and attribution. Every OS call is
// bounded by a short timeout and serialized per PID so suspend and terminate
// cannot race each other.
package proc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// osCallTimeout bounds every process control call. A call returning later is
// treated as a failure.
const osCallTimeout = 2 * time.Second

// Controller performs suspend / resume / terminate / deny-future-exec.
// Failures are reported, never fatal; the response engine records them and
// moves on.
type Controller interface {
	Suspend(pid int32) model.ActionResult
	Resume(pid int32) model.ActionResult
	Terminate(pid int32) model.ActionResult
	BlockFutureExec(exePath string) model.ActionResult
}

// OSController is the gopsutil-backed Controller.
type OSController struct {
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int32]*sync.Mutex
}

// NewController creates an OSController.
func NewController(logger *slog.Logger) *OSController {
	if logger == nil {
		logger = slog.Default()
	}
	return &OSController{logger: logger, locks: make(map[int32]*sync.Mutex)}
}

// pidLock returns the per-PID mutex, creating it on first use.
func (c *OSController) pidLock(pid int32) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[pid]
	if !ok {
		l = &sync.Mutex{}
		c.locks[pid] = l
	}
	return l
}

// call runs fn under the PID lock with the OS-call timeout applied.
func (c *OSController) call(pid int32, action string, fn func(context.Context, *process.Process) error) model.ActionResult {
	res := model.ActionResult{Action: action, Target: fmt.Sprintf("pid:%d", pid), Timestamp: time.Now().UTC()}

	lock := c.pidLock(pid)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), osCallTimeout)
	defer cancel()

	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		res.Reason = fmt.Sprintf("lookup: %v", err)
		return res
	}
	done := make(chan error, 1)
	go func() { done <- fn(ctx, p) }()
	select {
	case err := <-done:
		if err != nil {
			res.Reason = err.Error()
			c.logger.Warn("process control failed", "action", action, "pid", pid, "error", err)
			return res
		}
		res.Success = true
	case <-ctx.Done():
		res.Reason = "timed out"
		c.logger.Warn("process control timed out", "action", action, "pid", pid)
	}
	return res
}

// Suspend stops the process (SIGSTOP on POSIX).
func (c *OSController) Suspend(pid int32) model.ActionResult {
	return c.call(pid, "suspend", func(ctx context.Context, p *process.Process) error {
		return p.SuspendWithContext(ctx)
	})
}

// Resume continues a suspended process.
func (c *OSController) Resume(pid int32) model.ActionResult {
	return c.call(pid, "resume", func(ctx context.Context, p *process.Process) error {
		return p.ResumeWithContext(ctx)
	})
}

// Terminate kills the process.
func (c *OSController) Terminate(pid int32) model.ActionResult {
	return c.call(pid, "terminate", func(ctx context.Context, p *process.Process) error {
		return p.KillWithContext(ctx)
	})
}

// BlockFutureExec strips all permission bits from the executable so it
// cannot be launched again. Best-effort; a root-owned binary will refuse.
func (c *OSController) BlockFutureExec(exePath string) model.ActionResult {
	res := model.ActionResult{Action: "block_future_exec", Target: exePath, Timestamp: time.Now().UTC()}
	if exePath == "" {
		res.Reason = "no executable path"
		return res
	}
	if err := os.Chmod(exePath, 0); err != nil {
		res.Reason = err.Error()
		c.logger.Warn("block future exec failed", "exe", exePath, "error", err)
		return res
	}
	res.Success = true
	return res
}

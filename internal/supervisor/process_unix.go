//go:build !windows

package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/blacktop/ttsd/internal/state"
)

// SpawnDetached starts the command in a new session. Nil stdio on exec.Cmd
// is wired to the null device, so the child holds no reference to our
// terminal.
func (OSProcess) SpawnDetached(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		// Nobody could stop it once we return without a pid on record.
		unix.Kill(pid, unix.SIGKILL)
		return 0, fmt.Errorf("failed to release process %d: %w", pid, err)
	}
	return pid, nil
}

// Signal never reaches kill(2) with a pid outside pid_t, where the value
// would wrap to init or to the -1 broadcast.
func (OSProcess) Signal(pid int, sig Signal) error {
	if !state.ValidPID(pid) {
		return ErrProcessGone
	}
	s := unix.SIGTERM
	if sig == Forced {
		s = unix.SIGKILL
	}
	if err := unix.Kill(pid, s); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to send %s signal to %d: %w", sig, pid, err)
	}
	return nil
}

// IsAlive sends signal 0, which checks for existence without delivering
// anything.
func (OSProcess) IsAlive(pid int) bool {
	if !state.ValidPID(pid) {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// If we get EPERM, the process exists but we can't signal it
	return errors.Is(err, unix.EPERM)
}

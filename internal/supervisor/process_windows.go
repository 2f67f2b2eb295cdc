//go:build windows

package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/blacktop/ttsd/internal/state"
)

const (
	// PROCESS_QUERY_LIMITED_INFORMATION is the minimum access right needed
	// to query basic process information. Available since Windows Vista.
	PROCESS_QUERY_LIMITED_INFORMATION = 0x1000

	stillActive = 259
)

func (OSProcess) SpawnDetached(name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.DETACHED_PROCESS | windows.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		OSProcess{}.Signal(pid, Forced)
		return 0, fmt.Errorf("failed to release process %d: %w", pid, err)
	}
	return pid, nil
}

// Signal delivers CTRL_BREAK to the process group for Graceful and
// TerminateProcess for Forced. A detached process has no console, so the
// graceful request frequently fails and Stop escalates after its timeout.
func (p OSProcess) Signal(pid int, sig Signal) error {
	if !state.ValidPID(pid) || !p.IsAlive(pid) {
		return ErrProcessGone
	}

	if sig == Graceful {
		if err := windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid)); err != nil {
			return fmt.Errorf("failed to send %s signal to %d: %w", sig, pid, err)
		}
		return nil
	}

	handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
			return ErrProcessGone
		}
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(handle)

	if err := windows.TerminateProcess(handle, 1); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	return nil
}

// IsAlive opens the process with limited query access and checks that it
// has not exited yet.
func (OSProcess) IsAlive(pid int) bool {
	if !state.ValidPID(pid) {
		return false
	}
	handle, err := windows.OpenProcess(PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		// Access denied means the process exists.
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return true
	}
	return code == stillActive
}

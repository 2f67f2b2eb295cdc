package supervisor

import "errors"

// Signal is the kind of termination request sent to a process.
type Signal int

const (
	// Graceful asks the process to shut down (SIGTERM, CTRL_BREAK on Windows).
	Graceful Signal = iota
	// Forced kills the process without giving it a chance to react.
	Forced
)

func (s Signal) String() string {
	switch s {
	case Graceful:
		return "graceful"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// ErrProcessGone is returned by Signal when the target no longer exists.
var ErrProcessGone = errors.New("process does not exist")

// Process is the OS capability the Supervisor needs.
type Process interface {
	// SpawnDetached starts name with args outside of the caller's process
	// tree and session, with no terminal I/O, and returns its pid without
	// waiting for it.
	SpawnDetached(name string, args ...string) (int, error)
	Signal(pid int, sig Signal) error
	// IsAlive probes pid without affecting it. A process we are not allowed
	// to signal still counts as alive.
	IsAlive(pid int) bool
}

// OSProcess implements Process against the host operating system.
type OSProcess struct{}

var _ Process = OSProcess{}

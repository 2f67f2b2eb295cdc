// Package supervisor implements start, stop and status for the single
// background ttsd server.
//
// There is no long-lived supervisor process. Every call reads the persisted
// record, probes the recorded pid, acts, and updates the record before
// returning. A record whose process is gone is cleared by whichever call
// notices it first.
//
// Nothing here serialises concurrent invocations: two simultaneous Start
// calls against the same state directory may both spawn, and the last
// record written wins.
package supervisor

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/blacktop/ttsd/internal/state"
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultStopTimeout  = 5 * time.Second
)

// ErrAlreadyRunning is returned by Start when a live daemon is recorded.
var ErrAlreadyRunning = errors.New("daemon is already running")

// Store is the persistence the Supervisor needs. *state.Store satisfies it.
type Store interface {
	Read() (*state.Record, error)
	Write(rec state.Record) error
	Clear() error
}

// Outcome names what an operation found or did.
type Outcome int

const (
	Started Outcome = iota
	Running
	NotRunning
	StaleCleared
	Stopped
	ForceStopped
)

func (o Outcome) String() string {
	switch o {
	case Started:
		return "started"
	case Running:
		return "running"
	case NotRunning:
		return "not running"
	case StaleCleared:
		return "stale record removed"
	case Stopped:
		return "stopped"
	case ForceStopped:
		return "force-stopped"
	default:
		return "unknown"
	}
}

// Result is returned by every operation. Record is set for Started and
// Running, and carries the last known record for the stop outcomes.
type Result struct {
	Outcome Outcome
	Record  *state.Record
}

// Options tune how the daemon is launched and how long Stop waits.
type Options struct {
	// Command is the executable to launch.
	Command string
	// Args builds the argument list for the given port.
	Args func(port int) []string

	PollInterval time.Duration
	StopTimeout  time.Duration

	// Sleep and Now are replaced in tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Supervisor drives the daemon state machine.
type Supervisor struct {
	store Store
	proc  Process
	opts  Options
}

// New returns a Supervisor. Zero-valued Options fields get defaults.
func New(store Store, proc Process, opts Options) *Supervisor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Args == nil {
		opts.Args = func(int) []string { return nil }
	}
	return &Supervisor{store: store, proc: proc, opts: opts}
}

// current returns the recorded daemon if its process is alive. A record
// whose process is gone is cleared and reported through stale.
func (s *Supervisor) current() (rec *state.Record, stale bool, err error) {
	rec, err = s.store.Read()
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, nil
	}
	if s.proc.IsAlive(rec.PID) {
		return rec, false, nil
	}
	log.Debug("Recorded daemon is not running, clearing stale record", "pid", rec.PID)
	if err := s.store.Clear(); err != nil {
		return nil, true, err
	}
	return rec, true, nil
}

// Start launches the daemon on port unless one is already running.
func (s *Supervisor) Start(port int) (Result, error) {
	if err := state.ValidatePort(port); err != nil {
		return Result{}, err
	}

	rec, stale, err := s.current()
	if err != nil {
		return Result{}, err
	}
	if rec != nil && !stale {
		return Result{Outcome: Running, Record: rec},
			fmt.Errorf("%w (pid %d, port %d)", ErrAlreadyRunning, rec.PID, rec.Port)
	}

	args := s.opts.Args(port)
	log.Debug("Spawning daemon", "command", s.opts.Command, "args", args)
	pid, err := s.proc.SpawnDetached(s.opts.Command, args...)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start daemon: %w", err)
	}

	rec = &state.Record{
		PID:       pid,
		Port:      port,
		StartedAt: s.opts.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Write(*rec); err != nil {
		err = fmt.Errorf("daemon started (pid %d) but its record could not be saved: %w", pid, err)
		// Without a record nothing could stop it later.
		log.Debug("Killing unrecorded daemon", "pid", pid)
		if killErr := s.proc.Signal(pid, Forced); killErr != nil && !errors.Is(killErr, ErrProcessGone) {
			return Result{}, errors.Join(err, fmt.Errorf("failed to kill daemon: %w", killErr))
		}
		return Result{}, err
	}

	log.Debug("Daemon started", "pid", pid, "port", port)
	return Result{Outcome: Started, Record: rec}, nil
}

// Stop asks the daemon to exit, waiting up to StopTimeout before killing it.
// The record is always cleared on return. An error is only returned when the
// forced kill itself fails.
func (s *Supervisor) Stop() (Result, error) {
	rec, stale, err := s.current()
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Result{Outcome: NotRunning}, nil
	}
	if stale {
		return Result{Outcome: StaleCleared, Record: rec}, nil
	}

	log.Debug("Sending graceful signal", "pid", rec.PID)
	if err := s.proc.Signal(rec.PID, Graceful); err != nil {
		if errors.Is(err, ErrProcessGone) {
			return s.finish(rec, Stopped)
		}
		// Keep waiting; the forced kill below still bounds the call.
		log.Warn("Graceful signal failed", "pid", rec.PID, "error", err)
	}

	polls := int(s.opts.StopTimeout / s.opts.PollInterval)
	for i := 0; i < polls; i++ {
		s.opts.Sleep(s.opts.PollInterval)
		if !s.proc.IsAlive(rec.PID) {
			log.Debug("Daemon exited", "pid", rec.PID, "polls", i+1)
			return s.finish(rec, Stopped)
		}
	}

	log.Debug("Daemon did not exit in time, killing", "pid", rec.PID, "timeout", s.opts.StopTimeout)
	killErr := s.proc.Signal(rec.PID, Forced)
	res, clearErr := s.finish(rec, ForceStopped)
	if killErr != nil && !errors.Is(killErr, ErrProcessGone) {
		return res, errors.Join(fmt.Errorf("failed to kill daemon: %w", killErr), clearErr)
	}
	return res, clearErr
}

func (s *Supervisor) finish(rec *state.Record, outcome Outcome) (Result, error) {
	res := Result{Outcome: outcome, Record: rec}
	if err := s.store.Clear(); err != nil {
		return res, err
	}
	return res, nil
}

// Status reports whether the recorded daemon is alive.
func (s *Supervisor) Status() (Result, error) {
	rec, stale, err := s.current()
	if err != nil {
		return Result{}, err
	}
	switch {
	case rec == nil:
		return Result{Outcome: NotRunning}, nil
	case stale:
		return Result{Outcome: StaleCleared, Record: rec}, nil
	default:
		return Result{Outcome: Running, Record: rec}, nil
	}
}

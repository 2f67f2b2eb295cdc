// Package state persists the supervised daemon's record.
//
// Two files live in the state directory: a pid file holding the bare process
// id (the liveness token) and a JSON metadata file holding the full Record.
// The pid file is authoritative. The metadata file is best-effort and its loss
// or corruption never hides the recorded process id.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	PIDFileName  = "ttsd.pid"
	MetaFileName = "ttsd.json"

	// UnknownStartedAt is reported when the metadata file cannot be read.
	UnknownStartedAt = "unknown"
)

// Record describes the last daemon that was started.
type Record struct {
	PID       int    `json:"pid"`
	Port      int    `json:"port"`
	StartedAt string `json:"started_at"`
}

// ErrInvalidPort is returned for port values that are not an integer in
// 1-65535.
var ErrInvalidPort = errors.New("invalid port")

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p >= 1 && p <= 65535
}

// ValidatePort checks that p is within 1-65535.
func ValidatePort(p int) error {
	if !ValidPort(p) {
		return fmt.Errorf("%w %d: must be between 1 and 65535", ErrInvalidPort, p)
	}
	return nil
}

// ValidPID reports whether pid can name a process. pid_t is 32 bits wide, and
// larger values would wrap to 1 or -1 when handed to kill(2).
func ValidPID(pid int) bool {
	return pid > 0 && pid <= math.MaxInt32
}

// Store reads and writes at most one Record under a directory.
type Store struct {
	dir         string
	defaultPort int
}

// New returns a Store rooted at dir. defaultPort is reported for records
// whose metadata file is missing or unreadable.
func New(dir string, defaultPort int) *Store {
	return &Store{dir: dir, defaultPort: defaultPort}
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pidPath() string  { return filepath.Join(s.dir, PIDFileName) }
func (s *Store) metaPath() string { return filepath.Join(s.dir, MetaFileName) }

// Write persists rec, creating the state directory if needed.
// The metadata file is written before the pid file so that a token is never
// visible without the metadata from the same write.
func (s *Store) Write(rec Record) error {
	if !ValidPID(rec.PID) {
		return fmt.Errorf("refusing to record invalid pid %d", rec.PID)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeFile(s.metaPath(), append(meta, '\n')); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := writeFile(s.pidPath(), []byte(strconv.Itoa(rec.PID)+"\n")); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	log.Debug("Wrote daemon record", "dir", s.dir, "pid", rec.PID, "port", rec.Port)
	return nil
}

// Read returns the persisted record, or nil if none exists.
// A pid file that does not hold a pid in 1..MaxInt32 is treated as garbage:
// all state is cleared and nil is returned.
func (s *Store) Read() (*Record, error) {
	data, err := os.ReadFile(s.pidPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read pid file: %w", err)
	}

	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	pid := int(n)
	if err != nil || !ValidPID(pid) {
		log.Debug("Pid file is corrupt, clearing state", "dir", s.dir, "content", string(data))
		if err := s.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rec := &Record{PID: pid, Port: s.defaultPort, StartedAt: UnknownStartedAt}

	meta, err := os.ReadFile(s.metaPath())
	if err != nil {
		log.Debug("Metadata file unreadable, using defaults", "dir", s.dir, "error", err)
		return rec, nil
	}
	var stored Record
	if err := json.Unmarshal(meta, &stored); err != nil {
		log.Debug("Metadata file is corrupt, using defaults", "dir", s.dir, "error", err)
		return rec, nil
	}
	// Metadata left behind by a different process is ignored.
	if stored.PID != pid {
		log.Debug("Metadata pid does not match pid file, using defaults", "pid", pid, "metadata_pid", stored.PID)
		return rec, nil
	}
	if ValidPort(stored.Port) {
		rec.Port = stored.Port
	}
	if stored.StartedAt != "" {
		rec.StartedAt = stored.StartedAt
	}
	return rec, nil
}

// Clear removes both state files. Missing files are not an error.
func (s *Store) Clear() error {
	var errs []error
	for _, path := range []string{s.pidPath(), s.metaPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err))
		}
	}
	if len(errs) == 0 {
		log.Debug("Cleared daemon record", "dir", s.dir)
	}
	return errors.Join(errs...)
}

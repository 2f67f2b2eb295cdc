package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/ttsd/internal/state"
)

type sentSignal struct {
	pid int
	sig Signal
}

// fakeProcess simulates a process table.
type fakeProcess struct {
	mu sync.Mutex

	alive    map[int]bool
	nextPID  int
	spawnErr error
	spawned  [][]string
	signals  []sentSignal
	forceErr error

	// ignoreGraceful keeps the process alive after a graceful signal.
	ignoreGraceful bool
	// exitAfterProbes delays exit after a graceful signal by this many
	// IsAlive calls.
	exitAfterProbes int
	pending         map[int]int
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		alive:   make(map[int]bool),
		nextPID: 1000,
		pending: make(map[int]int),
	}
}

func (f *fakeProcess) SpawnDetached(name string, args ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	f.alive[f.nextPID] = true
	f.spawned = append(f.spawned, append([]string{name}, args...))
	return f.nextPID, nil
}

func (f *fakeProcess) Signal(pid int, sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sentSignal{pid, sig})
	if !f.alive[pid] {
		return ErrProcessGone
	}
	switch sig {
	case Graceful:
		if f.ignoreGraceful {
			return nil
		}
		if f.exitAfterProbes > 0 {
			f.pending[pid] = f.exitAfterProbes
			return nil
		}
		delete(f.alive, pid)
	case Forced:
		if f.forceErr != nil {
			return f.forceErr
		}
		delete(f.alive, pid)
	}
	return nil
}

func (f *fakeProcess) IsAlive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.pending[pid]; ok {
		if n <= 1 {
			delete(f.pending, pid)
			delete(f.alive, pid)
		} else {
			f.pending[pid] = n - 1
		}
	}
	return f.alive[pid]
}

func (f *fakeProcess) kill(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
}

type fakeClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept += d
	c.sleeps++
	c.now = c.now.Add(d)
}

func (c *fakeClock) Now() time.Time { return c.now }

type harness struct {
	sup   *Supervisor
	store *state.Store
	proc  *fakeProcess
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := state.New(filepath.Join(t.TempDir(), "state"), 8080)
	proc := newFakeProcess()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	sup := New(store, proc, Options{
		Command: "/usr/local/bin/ttsd",
		Args: func(port int) []string {
			return []string{"serve", "--port", strconv.Itoa(port)}
		},
		Sleep: clock.Sleep,
		Now:   clock.Now,
	})
	return &harness{sup: sup, store: store, proc: proc, clock: clock}
}

func (h *harness) record(t *testing.T) *state.Record {
	t.Helper()
	rec, err := h.store.Read()
	require.NoError(t, err)
	return rec
}

func TestStartWritesRecord(t *testing.T) {
	h := newHarness(t)

	res, err := h.sup.Start(9090)
	require.NoError(t, err)
	assert.Equal(t, Started, res.Outcome)
	require.NotNil(t, res.Record)
	assert.Equal(t, 1001, res.Record.PID)
	assert.Equal(t, 9090, res.Record.Port)
	assert.Equal(t, "2026-10-19T12:00:00Z", res.Record.StartedAt)

	require.Len(t, h.proc.spawned, 1)
	assert.Equal(t, []string{"/usr/local/bin/ttsd", "serve", "--port", "9090"}, h.proc.spawned[0])

	assert.Equal(t, res.Record, h.record(t))
}

func TestStartRefusesDoubleStart(t *testing.T) {
	h := newHarness(t)

	first, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Start(9191)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Contains(t, err.Error(), "pid 1001")
	assert.Contains(t, err.Error(), "port 9090")
	assert.Equal(t, Running, res.Outcome)

	// Nothing new was spawned and the record is untouched.
	assert.Len(t, h.proc.spawned, 1)
	assert.Equal(t, first.Record, h.record(t))
}

func TestStartClearsStaleRecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(state.Record{PID: 555, Port: 7000, StartedAt: "earlier"}))

	res, err := h.sup.Start(9090)
	require.NoError(t, err)
	assert.Equal(t, Started, res.Outcome)
	assert.NotEqual(t, 555, res.Record.PID)
	assert.Equal(t, 9090, h.record(t).Port)
}

func TestStartSpawnFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.proc.spawnErr = os.ErrNotExist

	_, err := h.sup.Start(9090)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, h.record(t))
	assert.NoDirExists(t, h.store.Dir())
}

// brokenWriteStore reads and clears normally but cannot persist a record.
type brokenWriteStore struct {
	*state.Store
	err error
}

func (s brokenWriteStore) Write(state.Record) error { return s.err }

func TestStartKillsDaemonWhenRecordCannotBeSaved(t *testing.T) {
	tests := []struct {
		name     string
		forceErr error
	}{
		{"killed", nil},
		{"kill fails", errors.New("access denied")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := newFakeProcess()
			proc.forceErr = tt.forceErr
			store := brokenWriteStore{
				Store: state.New(filepath.Join(t.TempDir(), "state"), 8080),
				err:   os.ErrPermission,
			}
			sup := New(store, proc, Options{Command: "/usr/local/bin/ttsd"})

			_, err := sup.Start(9090)
			require.Error(t, err)
			assert.ErrorIs(t, err, os.ErrPermission)
			assert.Contains(t, err.Error(), "pid 1001")
			assert.Equal(t, []sentSignal{{1001, Forced}}, proc.signals)

			if tt.forceErr != nil {
				assert.ErrorIs(t, err, tt.forceErr)
				return
			}
			assert.False(t, proc.IsAlive(1001))
		})
	}
}

func TestWrappingTokenIsNeverSignalled(t *testing.T) {
	for _, token := range []string{"4294967297", "4294967295"} {
		t.Run(token, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, os.MkdirAll(h.store.Dir(), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(h.store.Dir(), state.PIDFileName), []byte(token+"\n"), 0644))

			res, err := h.sup.Status()
			require.NoError(t, err)
			assert.Equal(t, NotRunning, res.Outcome)

			res, err = h.sup.Stop()
			require.NoError(t, err)
			assert.Equal(t, NotRunning, res.Outcome)

			assert.Empty(t, h.proc.signals)
			assert.NoFileExists(t, filepath.Join(h.store.Dir(), state.PIDFileName))
		})
	}
}

func TestStartInvalidPort(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		t.Run(strconv.Itoa(port), func(t *testing.T) {
			h := newHarness(t)
			_, err := h.sup.Start(port)
			assert.ErrorIs(t, err, state.ErrInvalidPort)
			assert.Empty(t, h.proc.spawned)
		})
	}
}

func TestStopNotRunningIsIdempotent(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		res, err := h.sup.Stop()
		require.NoError(t, err)
		assert.Equal(t, NotRunning, res.Outcome)
		assert.Nil(t, h.record(t))
	}
	assert.Empty(t, h.proc.signals)
}

func TestStopStaleRecord(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Write(state.Record{PID: 555, Port: 7000, StartedAt: "earlier"}))

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, StaleCleared, res.Outcome)
	assert.Nil(t, h.record(t))
	assert.Empty(t, h.proc.signals)
}

func TestStopGraceful(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.Outcome)
	assert.Nil(t, h.record(t))
	assert.Equal(t, []sentSignal{{1001, Graceful}}, h.proc.signals)
	assert.Equal(t, 1, h.clock.sleeps)
}

func TestStopWaitsForSlowExit(t *testing.T) {
	h := newHarness(t)
	h.proc.exitAfterProbes = 4
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.Outcome)
	assert.Equal(t, 4, h.clock.sleeps)
	assert.Equal(t, []sentSignal{{1001, Graceful}}, h.proc.signals)
	assert.Nil(t, h.record(t))
}

func TestStopEscalatesToForcedKill(t *testing.T) {
	h := newHarness(t)
	h.proc.ignoreGraceful = true
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, ForceStopped, res.Outcome)
	assert.Equal(t, []sentSignal{{1001, Graceful}, {1001, Forced}}, h.proc.signals)
	assert.Nil(t, h.record(t))

	assert.Equal(t, 20, h.clock.sleeps)
	assert.LessOrEqual(t, h.clock.slept, DefaultStopTimeout+DefaultPollInterval)
}

func TestStopBoundedWithCustomTiming(t *testing.T) {
	h := newHarness(t)
	h.proc.ignoreGraceful = true
	h.sup = New(h.store, h.proc, Options{
		Command:      "ttsd",
		PollInterval: 100 * time.Millisecond,
		StopTimeout:  time.Second,
		Sleep:        h.clock.Sleep,
		Now:          h.clock.Now,
	})
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, ForceStopped, res.Outcome)
	assert.Equal(t, 10, h.clock.sleeps)
	assert.LessOrEqual(t, h.clock.slept, time.Second+100*time.Millisecond)
}

func TestStopForcedKillFailureStillClears(t *testing.T) {
	h := newHarness(t)
	h.proc.ignoreGraceful = true
	h.proc.forceErr = errors.New("operation not permitted")
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err := h.sup.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.Equal(t, ForceStopped, res.Outcome)
	assert.Nil(t, h.record(t))
}

func TestStopProcessExitsBeforeSignal(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(9090)
	require.NoError(t, err)

	// Alive at the probe, gone by the time the signal is sent.
	h.sup.proc = &racingProcess{fakeProcess: h.proc}

	res, err := h.sup.Stop()
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.Outcome)
	assert.Zero(t, h.clock.sleeps)
	assert.Nil(t, h.record(t))
}

type racingProcess struct{ *fakeProcess }

func (r *racingProcess) Signal(pid int, sig Signal) error {
	r.kill(pid)
	return r.fakeProcess.Signal(pid, sig)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)

	res, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, NotRunning, res.Outcome)

	started, err := h.sup.Start(9090)
	require.NoError(t, err)

	res, err = h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, Running, res.Outcome)
	assert.Equal(t, started.Record, res.Record)

	_, err = h.sup.Stop()
	require.NoError(t, err)

	res, err = h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, NotRunning, res.Outcome)
}

func TestStatusClearsStaleRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.sup.Start(9090)
	require.NoError(t, err)
	h.proc.kill(1001)

	res, err := h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, StaleCleared, res.Outcome)
	assert.Nil(t, h.record(t))

	res, err = h.sup.Status()
	require.NoError(t, err)
	assert.Equal(t, NotRunning, res.Outcome)
}

func TestStatusToleratesCorruptMetadata(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, path string)
	}{
		{"deleted", func(t *testing.T, path string) { require.NoError(t, os.Remove(path)) }},
		{"garbage", func(t *testing.T, path string) { require.NoError(t, os.WriteFile(path, []byte("\x00garbage"), 0644)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.sup.Start(9090)
			require.NoError(t, err)
			tt.setup(t, filepath.Join(h.store.Dir(), state.MetaFileName))

			res, err := h.sup.Status()
			require.NoError(t, err)
			assert.Equal(t, Running, res.Outcome)
			assert.Equal(t, 1001, res.Record.PID)
			assert.Equal(t, 8080, res.Record.Port)
			assert.Equal(t, state.UnknownStartedAt, res.Record.StartedAt)
		})
	}
}

// Start has no cross-invocation locking. Two callers that both read an empty
// state directory both spawn, and the record of the last writer wins. This
// test documents that behaviour rather than asserting mutual exclusion.
func TestConcurrentStartIsLastWriterWins(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	proc := newFakeProcess()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup := New(state.New(dir, 8080), proc, Options{Command: "ttsd"})
			_, _ = sup.Start(9090)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, len(proc.spawned), 1)
	assert.LessOrEqual(t, len(proc.spawned), 2)

	rec, err := state.New(dir, 8080).Read()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, proc.IsAlive(rec.PID))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "force-stopped", ForceStopped.String())
	assert.Equal(t, "stale record removed", StaleCleared.String())
	assert.Equal(t, "unknown", Outcome(99).String())
	assert.Equal(t, "graceful", Graceful.String())
}

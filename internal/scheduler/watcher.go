// Package scheduler runs the detached reminder process: it polls the store
// for the active session and forwards changes to a relay, so hourly
// reminders keep coming when no interactive view is open.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/christopherklint97/punchclock/internal/config"
	"github.com/christopherklint97/punchclock/internal/relay"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/timer"
)

const DefaultPollInterval = 15 * time.Second

type Watcher struct {
	store    *store.Store
	relay    timer.Messenger
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	last *store.ActiveSession
}

func New(s *store.Store, m timer.Messenger, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{store: s, relay: m, interval: interval, logger: logger, now: time.Now}
}

// Run polls until ctx is done. With a PID file the process can be stopped
// with ReadPID and a signal.
func (w *Watcher) Run(ctx context.Context, withPID bool) error {
	if withPID {
		if err := writePID(); err != nil {
			return fmt.Errorf("writing PID file: %w", err)
		}
		defer removePID()
	}

	w.logger.Info("reminder watcher started", "poll", w.interval)
	for {
		w.Poll()

		select {
		case <-ctx.Done():
			w.logger.Info("reminder watcher stopped")
			return nil
		case <-time.After(w.interval):
		}
	}
}

// Poll reads the session once and tells the relay if it changed since the
// previous poll. Read failures are logged and retried on the next poll.
func (w *Watcher) Poll() {
	s, err := w.store.ActiveSession()
	if err != nil {
		w.logger.Warn("reading active session", "error", err)
		return
	}

	switch {
	case s == nil && w.last == nil:
	case s == nil:
		w.relay.Post(relay.StopTimer{})
	case w.last == nil || changed(w.last, s):
		w.relay.Post(relay.Init(s, w.now()))
	}
	w.last = s
}

// changed ignores checkpoints: a running session whose fold moved
// accumulated and lastUpdate together derives the same elapsed time.
func changed(prev, cur *store.ActiveSession) bool {
	if prev.CheckInID != cur.CheckInID || prev.Paused != cur.Paused {
		return true
	}
	if cur.Paused {
		return prev.AccumulatedSeconds != cur.AccumulatedSeconds
	}
	return !prev.LastUpdate.Add(-prev.Accumulated()).Equal(cur.LastUpdate.Add(-cur.Accumulated()))
}

func pidPath() (string, error) {
	dir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "punchclock.pid"), nil
}

func writePID() error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	path, err := pidPath()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePID() {
	if path, err := pidPath(); err == nil {
		os.Remove(path)
	}
}

func ReadPID() (int, error) {
	path, err := pidPath()
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("no running reminder process found")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file")
	}

	return pid, nil
}

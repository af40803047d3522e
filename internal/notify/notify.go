// Package notify delivers user-facing reminders. Every sink is best-effort:
// callers log a failed Show and carry on.
package notify

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/beeep"
)

type Sink interface {
	Show(title, body string) error
}

// Desktop shows native notifications.
type Desktop struct{}

func (Desktop) Show(title, body string) error {
	if err := beeep.Notify(title, body, ""); err != nil {
		return fmt.Errorf("showing notification: %w", err)
	}
	return nil
}

// Log writes notifications to a logger, for headless runs.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Show(title, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger.Info("notification", "title", title, "body", body)
	return nil
}

type Discard struct{}

func (Discard) Show(string, string) error { return nil }

// Multi shows through every sink and returns the first failure.
type Multi []Sink

func (m Multi) Show(title, body string) error {
	var first error
	for _, s := range m {
		if err := s.Show(title, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}

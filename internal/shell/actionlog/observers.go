package actionlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// Console prints one human status line per record.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console observer writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// OnAction implements Observer.
func (c *Console) OnAction(rec domain.ActionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, rec.String())
}

// SlogObserver emits a structured log line per record.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates an observer logging through logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger.With("component", "actionlog")}
}

// OnAction implements Observer.
func (s *SlogObserver) OnAction(rec domain.ActionRecord) {
	level := slog.LevelInfo
	switch rec.Status {
	case domain.StatusFailed, domain.StatusRetrying:
		level = slog.LevelWarn
	case domain.StatusError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "stage event",
		"stage", rec.Action,
		"status", rec.Status,
		"details", rec.Details,
	)
}

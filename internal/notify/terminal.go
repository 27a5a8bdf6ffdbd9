package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"stockalert/internal/config"
)

// TerminalNotifier prints notifications to a terminal.
type TerminalNotifier struct {
	mu          sync.Mutex
	out         io.Writer
	enabled     bool
	bellEnabled bool
	title       *color.Color
	timestamp   *color.Color
}

// NewTerminalNotifier creates a new TerminalNotifier writing to stdout.
func NewTerminalNotifier(cfg config.TerminalConfig) *TerminalNotifier {
	return NewTerminalNotifierWithWriter(cfg, os.Stdout)
}

// NewTerminalNotifierWithWriter creates a TerminalNotifier writing to out.
func NewTerminalNotifierWithWriter(cfg config.TerminalConfig, out io.Writer) *TerminalNotifier {
	tn := &TerminalNotifier{
		out:         out,
		enabled:     cfg.Enabled,
		bellEnabled: cfg.Bell,
		title:       color.New(color.FgRed, color.Bold),
		timestamp:   color.New(color.Faint),
	}
	if !cfg.Color {
		tn.title.DisableColor()
		tn.timestamp.DisableColor()
	}
	return tn
}

// Name returns the name of the notifier.
func (tn *TerminalNotifier) Name() string {
	return "terminal"
}

// IsEnabled returns whether the notifier is enabled.
func (tn *TerminalNotifier) IsEnabled() bool {
	return tn.enabled
}

// Send prints the notification.
func (tn *TerminalNotifier) Send(ctx context.Context, n Notification) error {
	if !tn.enabled {
		return nil
	}

	tn.mu.Lock()
	defer tn.mu.Unlock()

	if tn.bellEnabled {
		fmt.Fprint(tn.out, "\a")
	}
	tn.timestamp.Fprintf(tn.out, "[%s] ", n.Timestamp.Format("15:04:05"))
	tn.title.Fprint(tn.out, n.Title)
	_, err := fmt.Fprintf(tn.out, "  %s\n", n.Body)
	return err
}

// LogNotifier writes notifications to a structured logger. It is always
// enabled and serves as the delivery record when no other channel is set up.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name returns the name of the notifier.
func (l *LogNotifier) Name() string {
	return "log"
}

// IsEnabled returns whether the notifier is enabled.
func (l *LogNotifier) IsEnabled() bool {
	return true
}

// Send logs the notification.
func (l *LogNotifier) Send(ctx context.Context, n Notification) error {
	l.logger.Info().
		Str("event", "notification").
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg(n.Body)
	return nil
}

// Package notify defines the notification dispatch boundary for MomentPipe.
//
// The engine calls a Dispatcher once per eligible moment with
// fire-and-report-success semantics: a failed dispatch is simply "not sent"
// and may be retried on a later cycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// Dispatcher delivers a moment to the user through some push channel.
type Dispatcher interface {
	// SendNotification displays or delivers one notification for the moment.
	SendNotification(ctx context.Context, m models.Moment) error

	// Channel returns a short channel name for the dispatch log.
	Channel() string
}

// FormatMoment renders a moment into a single notification body.
func FormatMoment(m models.Moment) string {
	var b strings.Builder
	if m.Emoji != "" {
		b.WriteString(m.Emoji)
		b.WriteString(" ")
	}
	b.WriteString(m.Title)
	if m.Description != "" {
		b.WriteString("\n")
		b.WriteString(m.Description)
	}
	if m.Suggestion != "" {
		b.WriteString("\n")
		b.WriteString(m.Suggestion)
	}
	return b.String()
}

// LogDispatcher writes notifications to the structured log. It is the
// fallback channel when no external channel is configured and always succeeds.
type LogDispatcher struct{}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

// SendNotification logs the notification body at info level.
func (d *LogDispatcher) SendNotification(ctx context.Context, m models.Moment) error {
	if m.ID == "" {
		return fmt.Errorf("moment id cannot be empty")
	}
	slog.Info("Notification", "moment_id", m.ID, "priority", m.Priority, "body", FormatMoment(m))
	return nil
}

// Channel returns the channel name.
func (d *LogDispatcher) Channel() string {
	return "log"
}

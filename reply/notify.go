package reply

import (
	"context"
	"log/slog"
)

// Notification describes one batch successfully posted to chat.
type Notification struct {
	SessionID     string
	ChatChannelID string
	Summary       string
	Count         int // how many stored notes the summary covers
}

// Notifier receives a notification after each successful post so the
// orchestrating layer can tell the moderator what went out.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier logs posted batches.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) {
	slog.Info("reply batch posted",
		slog.String("session_id", n.SessionID),
		slog.String("chat_channel_id", n.ChatChannelID),
		slog.Int("notes", n.Count),
		slog.String("component", "reply_write"))
}

// ChanNotifier forwards notifications on a buffered channel and drops them
// when nobody is consuming, so a slow listener cannot stall the write job.
type ChanNotifier struct {
	C chan Notification
}

// NewChanNotifier returns a notifier with the given buffer size.
func NewChanNotifier(size int) *ChanNotifier {
	if size <= 0 {
		size = 16
	}
	return &ChanNotifier{C: make(chan Notification, size)}
}

func (c *ChanNotifier) Notify(_ context.Context, n Notification) {
	select {
	case c.C <- n:
	default:
		slog.Debug("notification dropped: channel full", slog.String("session_id", n.SessionID))
	}
}

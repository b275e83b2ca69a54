package notify

import (
	"context"
	"log/slog"
)

// Notifier delivers user-facing events. Delivery is fire-and-forget: a failed
// notification never rolls back the state change that triggered it.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any)
}

// LogNotifier records notifications as log lines; a stand-in for a real
// delivery channel.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID, event string, payload map[string]any) {
	args := []any{slog.String("user_id", userID), slog.String("event", event)}
	for k, v := range payload {
		args = append(args, slog.Any(k, v))
	}
	n.logger.InfoContext(ctx, "notify", args...)
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, string, string, map[string]any) {}

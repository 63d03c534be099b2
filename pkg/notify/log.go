package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogGateway writes events to a zap logger. It has no human channel, so
// every approval request is declined.
type LogGateway struct {
	log *zap.Logger
}

// NewLogGateway creates a LogGateway.
func NewLogGateway(log *zap.Logger) *LogGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogGateway{log: log}
}

// Notify logs the event.
func (g *LogGateway) Notify(_ context.Context, ev Event) error {
	g.log.Info("notification",
		zap.String("type", string(ev.Type)),
		zap.String("summary", ev.Summary),
		zap.Any("payload", ev.Payload),
	)
	return nil
}

// RequestApproval always declines.
func (g *LogGateway) RequestApproval(_ context.Context, prompt string) (bool, error) {
	g.log.Warn("approval requested without an interactive channel; declining", zap.String("prompt", prompt))
	return false, nil
}

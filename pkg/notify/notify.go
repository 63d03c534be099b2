// Package notify delivers scheduler events to humans and collects approvals.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrApprovalTimeout is returned when no answer arrives in time.
// Callers treat it as a decline.
var ErrApprovalTimeout = errors.New("approval timed out")

// EventType distinguishes notification kinds.
type EventType string

const (
	EventRecommendation EventType = "recommendation"
	EventCompletion     EventType = "completion"
)

// Event is a notification payload. Delivery is at-most-once.
type Event struct {
	Type    EventType `json:"type"`
	Summary string    `json:"summary"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Gateway sends notifications and asks humans for approval.
type Gateway interface {
	// Notify delivers an event. A lost event degrades UX only.
	Notify(ctx context.Context, ev Event) error
	// RequestApproval blocks until a human answers or ctx ends.
	RequestApproval(ctx context.Context, prompt string) (bool, error)
}

// Approve asks gw for approval bounded by timeout. Any error, including a
// timeout, counts as a decline.
func Approve(ctx context.Context, gw Gateway, prompt string, timeout time.Duration, log *zap.Logger) bool {
	if gw == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := gw.RequestApproval(ctx, prompt)
	if err != nil {
		if log != nil {
			log.Warn("approval not granted", zap.String("prompt", prompt), zap.Error(err))
		}
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return ok
}

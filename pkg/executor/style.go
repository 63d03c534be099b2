package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/models"
	"github.com/pario-ai/dixie/pkg/notify"
)

// StyleStrategy decides how a human is involved around a cycle.
type StyleStrategy interface {
	// Gate runs before selection. Returning false abandons the cycle.
	Gate(ctx context.Context, e *Executor, rec models.Recommendation) bool
	// Report runs after the cycle.
	Report(ctx context.Context, e *Executor, rep *CycleReport)
}

// StrategyFor maps a configured style to its strategy. Unknown styles ask
// for permission.
func StrategyFor(style models.NotificationStyle) StyleStrategy {
	switch style {
	case models.StyleProactive:
		return proactive{}
	case models.StylePassive:
		return passive{}
	case models.StyleAskPermission:
		return askPermission{}
	}
	return askPermission{}
}

// proactive announces the recommendation and the outcome.
type proactive struct{}

func (proactive) Gate(ctx context.Context, e *Executor, rec models.Recommendation) bool {
	e.notify(ctx, notify.Event{
		Type:    notify.EventRecommendation,
		Summary: describe(rec),
		Payload: rec,
	})
	return true
}

func (proactive) Report(ctx context.Context, e *Executor, rep *CycleReport) {
	e.notifyCompletion(ctx, rep)
}

// passive runs silently and only reports the outcome.
type passive struct{}

func (passive) Gate(context.Context, *Executor, models.Recommendation) bool { return true }

func (passive) Report(ctx context.Context, e *Executor, rep *CycleReport) {
	e.notifyCompletion(ctx, rep)
}

// askPermission blocks on approval before selecting anything.
type askPermission struct{}

func (askPermission) Gate(ctx context.Context, e *Executor, rec models.Recommendation) bool {
	ok := notify.Approve(ctx, e.gateway, "Run background tasks? "+describe(rec), e.approvalTimeout, e.log)
	if !ok {
		e.log.Info("cycle declined", zap.String("service", rec.Service), zap.Int64("amount", rec.Amount))
	}
	return ok
}

func (askPermission) Report(ctx context.Context, e *Executor, rep *CycleReport) {
	e.notifyCompletion(ctx, rep)
}

func describe(rec models.Recommendation) string {
	return fmt.Sprintf("%s urgency: allocate %d prompts of %s (pressure %.2f)", rec.Urgency, rec.Amount, rec.Service, rec.Pressure)
}

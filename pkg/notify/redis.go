package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultApprovalWait = 2 * time.Minute

// ApprovalRequest is published when a human decision is needed. The answer
// is pushed onto ReplyKey.
type ApprovalRequest struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	Prompt   string    `json:"prompt"`
	ReplyKey string    `json:"reply_key"`
	At       time.Time `json:"at"`
}

// RedisGateway publishes events on a channel and waits for approvals on a
// per-request list.
type RedisGateway struct {
	client  *redis.Client
	channel string
	prefix  string
	log     *zap.Logger
}

// NewRedisGateway creates a RedisGateway.
func NewRedisGateway(client *redis.Client, channel, approvalPrefix string, log *zap.Logger) *RedisGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisGateway{client: client, channel: channel, prefix: approvalPrefix, log: log}
}

// Notify publishes the event as JSON.
func (g *RedisGateway) Notify(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := g.client.Publish(ctx, g.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// RequestApproval publishes an ApprovalRequest and blocks on its reply list
// until ctx's deadline.
func (g *RedisGateway) RequestApproval(ctx context.Context, prompt string) (bool, error) {
	req := ApprovalRequest{
		Type:   "approval_request",
		ID:     uuid.NewString(),
		Prompt: prompt,
		At:     time.Now().UTC(),
	}
	req.ReplyKey = g.prefix + req.ID

	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshal approval request: %w", err)
	}
	if err := g.client.Publish(ctx, g.channel, data).Err(); err != nil {
		return false, fmt.Errorf("publish approval request: %w", err)
	}

	wait := defaultApprovalWait
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return false, ErrApprovalTimeout
	}

	res, err := g.client.BLPop(ctx, wait, req.ReplyKey).Result()
	switch {
	case errors.Is(err, redis.Nil), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		g.log.Info("approval timed out", zap.String("id", req.ID))
		return false, ErrApprovalTimeout
	case err != nil:
		return false, fmt.Errorf("await approval: %w", err)
	}
	// BLPOP returns [key, value].
	if len(res) < 2 {
		return false, nil
	}
	return parseAnswer(res[1]), nil
}

func parseAnswer(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "approve", "approved":
		return true
	}
	return false
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGateway struct {
	answer bool
	err    error
	block  bool
}

func (s *stubGateway) Notify(context.Context, Event) error { return nil }

func (s *stubGateway) RequestApproval(ctx context.Context, _ string) (bool, error) {
	if s.block {
		<-ctx.Done()
		return false, ErrApprovalTimeout
	}
	return s.answer, s.err
}

func TestApprove(t *testing.T) {
	ctx := context.Background()
	assert.True(t, Approve(ctx, &stubGateway{answer: true}, "p", time.Second, nil))
	assert.False(t, Approve(ctx, &stubGateway{answer: false}, "p", time.Second, nil))
	assert.False(t, Approve(ctx, &stubGateway{answer: true, err: errors.New("down")}, "p", time.Second, zap.NewNop()))
	assert.False(t, Approve(ctx, &stubGateway{block: true}, "p", 20*time.Millisecond, nil))
	assert.False(t, Approve(ctx, nil, "p", time.Second, nil))
}

func TestLogGatewayDeclines(t *testing.T) {
	g := NewLogGateway(nil)
	require.NoError(t, g.Notify(context.Background(), Event{Type: EventCompletion, Summary: "done"}))
	ok, err := g.RequestApproval(context.Background(), "spend?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTerminalGatewayNotify(t *testing.T) {
	var buf bytes.Buffer
	g := NewTerminalGateway(&buf)
	require.NoError(t, g.Notify(context.Background(), Event{Type: EventCompletion, Summary: "3 of 5 tasks completed, 2 failed"}))
	assert.Equal(t, "[completion] 3 of 5 tasks completed, 2 failed\n", buf.String())
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisNotifyPublishes(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "dixie:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	g := NewRedisGateway(client, "dixie:events", "dixie:approval:", nil)
	require.NoError(t, g.Notify(ctx, Event{Type: EventRecommendation, Summary: "allocate 500"}))

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, EventRecommendation, ev.Type)
		assert.Equal(t, "allocate 500", ev.Summary)
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
	}
}

func TestRedisApprovalGranted(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "dixie:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	go func() {
		msg := <-sub.Channel()
		var req ApprovalRequest
		if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
			return
		}
		client.LPush(ctx, req.ReplyKey, "approve")
	}()

	g := NewRedisGateway(client, "dixie:events", "dixie:approval:", nil)
	ok := Approve(ctx, g, "spend 200 on metered?", 3*time.Second, nil)
	assert.True(t, ok)
}

func TestRedisApprovalTimeout(t *testing.T) {
	_, client := newRedis(t)

	g := NewRedisGateway(client, "dixie:events", "dixie:approval:", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 1100*time.Millisecond)
	defer cancel()

	ok, err := g.RequestApproval(ctx, "spend?")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrApprovalTimeout)
}

func TestParseAnswer(t *testing.T) {
	for _, s := range []string{"yes", "Y", " approve ", "APPROVED"} {
		assert.True(t, parseAnswer(s), s)
	}
	for _, s := range []string{"no", "", "maybe", "decline"} {
		assert.False(t, parseAnswer(s), s)
	}
}

package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

func newChannel(t *testing.T, vars map[string]any) *Channel {
	t.Helper()
	ch := New(objects.Config{ID: "c1", Name: "mock", Kind: objects.KindChannel, Subtype: Subtype, Variables: vars})
	require.NoError(t, ch.InitializeDataCache(context.Background(), nil))
	return ch
}

func drain(ch *Channel) []string {
	var out []string
	for {
		select {
		case ev := <-ch.Events():
			out = append(out, ev.Message)
		default:
			return out
		}
	}
}

func TestScriptedReplies(t *testing.T) {
	ctx := context.Background()
	ch := newChannel(t, map[string]any{
		"messages":     []any{"first", "second"},
		"finalMessage": "bye",
	})

	for range 4 {
		require.NoError(t, ch.Message(ctx, channel.MessageRequest{SenderID: "w1", Message: "hi", TaskExecutionID: "t1"}))
	}
	assert.Equal(t, []string{"first", "second", "bye"}, drain(ch))
	assert.Len(t, ch.Received(), 4)
}

func TestEndCountReplies(t *testing.T) {
	ctx := context.Background()
	ch := newChannel(t, map[string]any{"endCount": 3})
	for range 5 {
		require.NoError(t, ch.Message(ctx, channel.MessageRequest{SenderID: "w1", Message: "hi"}))
	}
	assert.Equal(t, []string{"mock-message-0", "mock-message-1", "mock-final-message", "mock-final-message"}, drain(ch))
}

func TestSkipsOwnAndFinalMessages(t *testing.T) {
	ctx := context.Background()
	ch := newChannel(t, nil)
	require.NoError(t, ch.Message(ctx, channel.MessageRequest{SenderID: "c1", Message: "echo"}))
	require.NoError(t, ch.Message(ctx, channel.MessageRequest{SenderID: "w1", Final: true}))
	assert.Empty(t, drain(ch))
}

func TestSessionAndMembership(t *testing.T) {
	ctx := context.Background()
	ch := newChannel(t, nil)

	require.NoError(t, ch.EstablishSession(ctx, "t1", nil))
	require.NoError(t, ch.EstablishSession(ctx, "t2", map[string]string{"threadId": "abc"}))

	thread, ok, err := ch.ThreadID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "mock-thread-t1", thread)
	thread, _, _ = ch.ThreadID(ctx, "t2")
	assert.Equal(t, "abc", thread)
	assert.Equal(t, []string{"t1", "t2"}, ch.Sessions())

	require.NoError(t, ch.Join(ctx, "w1", "tok", "helper", ""))
	user, ok, err := ch.Data().WorkerUserIDs.Get(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "helper", user)

	require.NoError(t, ch.Leave(ctx, "w1"))
	_, ok, _ = ch.Data().UserWorkerIDs.Get(ctx, "helper")
	assert.False(t, ok)
}

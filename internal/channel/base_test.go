package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

func TestBaseOutputContract(t *testing.T) {
	b := NewBase(objects.Config{ID: "c1", Name: "Support Chat", Description: "help desk"})
	ctx := context.Background()

	assert.Equal(t, "final_message_support_chat", b.CanonicalOutputKey())

	assert.NoError(t, b.ValidateObject(ctx, map[string]any{"message": "hello"}))
	assert.Error(t, b.ValidateObject(ctx, map[string]any{"message": ""}))
	assert.Error(t, b.ValidateObject(ctx, map[string]any{"text": "hello"}))
	assert.Error(t, b.ValidateObject(ctx, "hello"))

	schema := b.Schema()
	assert.Equal(t, "final_message_support_chat", schema.Title)
	assert.Equal(t, []string{"message"}, schema.Required)
	assert.Contains(t, schema.Description, "help desk")
	_, ok := schema.Properties.Get("message")
	assert.True(t, ok)
}

func TestBaseRequiresDataCache(t *testing.T) {
	b := NewBase(objects.Config{ID: "c1", Name: "chat"})
	_, _, err := b.ThreadID(context.Background(), "t1")
	assert.ErrorContains(t, err, "data cache not initialized")

	require.NoError(t, b.InitializeDataCache(context.Background(), nil))
	_, ok, err := b.ThreadID(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBaseEmitAfterDestroy(t *testing.T) {
	b := NewBase(objects.Config{ID: "c1", Name: "chat"})
	ctx := context.Background()

	require.NoError(t, b.Emit(ctx, MessageEvent{MessageID: "m1"}))
	ev := <-b.Events()
	assert.Equal(t, "c1", ev.ChannelID)

	require.NoError(t, b.Destroy(ctx))
	require.NoError(t, b.Destroy(ctx))
	assert.Error(t, b.Emit(ctx, MessageEvent{MessageID: "m2"}))
}

func TestBaseReportErrorKeepsFirst(t *testing.T) {
	b := NewBase(objects.Config{ID: "c1", Name: "chat"})
	b.ReportError(assert.AnError)
	b.ReportError(assert.AnError)

	oerr := <-b.Errors()
	assert.Equal(t, "c1", oerr.ObjectID)
	assert.ErrorIs(t, oerr, assert.AnError)
}

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSlowSubscriberEviction(t *testing.T) {
	b := Local[testEvent](WithSlowSubscriberTimeout(20*time.Millisecond), WithBufferSize(1))
	subject := b.Subject("slow")
	ctx := context.Background()

	release := make(chan struct{})
	r := &recorder{}
	_, err := subject.Subscribe(ctx, func(ctx context.Context, ev testEvent) {
		<-release
		r.handle(ctx, ev)
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, subject.Publish(ctx, testEvent{ID: "x"}))
	}
	close(release)
	time.Sleep(100 * time.Millisecond)
	assert.Less(t, len(r.snapshot()), 5)
}

func TestLocalPublishHonoursContext(t *testing.T) {
	b := Local[testEvent](WithBufferSize(1))
	subject := b.Subject("blocked")

	block := make(chan struct{})
	defer close(block)
	_, err := subject.Subscribe(context.Background(), func(context.Context, testEvent) { <-block })
	require.NoError(t, err)

	// first value is taken by the handler, the second fills the queue
	require.NoError(t, subject.Publish(context.Background(), testEvent{}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, subject.Publish(context.Background(), testEvent{}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, subject.Publish(ctx, testEvent{}), context.DeadlineExceeded)
}

func TestCompletedSubjectIsReplaced(t *testing.T) {
	b := Local[testEvent]()
	first := b.Subject("again")
	first.Complete()
	second := b.Subject("again")
	assert.NotSame(t, first, second)
	assert.NoError(t, second.Publish(context.Background(), testEvent{}))
}

func TestNew(t *testing.T) {
	b, err := New[testEvent](Transport{})
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = New[testEvent](Transport{Mode: ModeNATS})
	assert.Error(t, err)

	_, err = New[testEvent](Transport{Mode: "carrier-pigeon"})
	assert.Error(t, err)

	assert.Panics(t, func() { Must[testEvent](Transport{Mode: ModeNATS}) })
	assert.NotPanics(t, func() { Must[testEvent](Transport{Mode: ModeLocal}) })
}

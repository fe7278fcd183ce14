package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/workforce-oss/workforce-sub002/internal/cache"
)

// DefaultReleaseDelay gives in-flight final messages time to reach their
// thread before the mapping disappears.
const DefaultReleaseDelay = time.Second

// ErrNoThread is returned when an id maps to no thread or session.
var ErrNoThread = errors.New("channel: no thread for session")

// DataCache is the per channel state shared by all processes serving it.
// SessionThreads maps task execution ids to thread ids and ThreadSessions
// holds the inverse.
type DataCache struct {
	SessionThreads  cache.Map[string]
	ThreadSessions  cache.Map[string]
	WorkerUserIDs   cache.Map[string]
	UserWorkerIDs   cache.Map[string]
	UsernameWorkers cache.Map[string]
	MessageImplIDs  cache.Map[string]
	ReleaseDelay    time.Duration
}

func NewDataCache(backend *cache.Backend, channelID string) (*DataCache, error) {
	names := []string{
		"sessionThreads",
		"threadSessions",
		"workerIdsToChannelUserIds",
		"userIdsToWorkerIds",
		"usernamesToWorkerIds",
		"channelMessageIdsToImplementationIds",
	}
	maps := make([]cache.Map[string], len(names))
	for i, n := range names {
		m, err := cache.New[string](backend, fmt.Sprintf("channel.%s.%s", channelID, n))
		if err != nil {
			return nil, fmt.Errorf("channel %s: data cache: %w", channelID, err)
		}
		maps[i] = m
	}
	return &DataCache{
		SessionThreads:  maps[0],
		ThreadSessions:  maps[1],
		WorkerUserIDs:   maps[2],
		UserWorkerIDs:   maps[3],
		UsernameWorkers: maps[4],
		MessageImplIDs:  maps[5],
		ReleaseDelay:    DefaultReleaseDelay,
	}, nil
}

// MapThread binds a task execution to a thread in both directions.
func (d *DataCache) MapThread(ctx context.Context, taskExecutionID, threadID string) error {
	if err := d.SessionThreads.Set(ctx, taskExecutionID, threadID); err != nil {
		return err
	}
	return d.ThreadSessions.Set(ctx, threadID, taskExecutionID)
}

func (d *DataCache) ThreadID(ctx context.Context, taskExecutionID string) (string, bool, error) {
	return d.SessionThreads.Get(ctx, taskExecutionID)
}

func (d *DataCache) SessionID(ctx context.Context, threadID string) (string, bool, error) {
	return d.ThreadSessions.Get(ctx, threadID)
}

// resolve returns the (taskExecutionId, threadId) pair for id, which may be
// either side of the mapping.
func (d *DataCache) resolve(ctx context.Context, id string) (string, string, error) {
	thread, ok, err := d.SessionThreads.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if ok {
		return id, thread, nil
	}
	session, ok, err := d.ThreadSessions.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	if ok {
		return session, id, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNoThread, id)
}

// Release waits ReleaseDelay and then drops the mapping for id, given as
// either a task execution id or a thread id.
func (d *DataCache) Release(ctx context.Context, id string) error {
	if d.ReleaseDelay > 0 {
		timer := time.NewTimer(d.ReleaseDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	session, thread, err := d.resolve(ctx, id)
	if err != nil {
		return err
	}
	return errors.Join(
		d.SessionThreads.Delete(ctx, session),
		d.ThreadSessions.Delete(ctx, thread),
	)
}

// HandOff rebinds the thread of oldID to newTaskExecutionID. The old task
// execution no longer maps to the thread afterwards.
func (d *DataCache) HandOff(ctx context.Context, oldID, newTaskExecutionID string) error {
	session, thread, err := d.resolve(ctx, oldID)
	if err != nil {
		return err
	}
	if session != newTaskExecutionID {
		if err := d.SessionThreads.Delete(ctx, session); err != nil {
			return err
		}
	}
	return d.MapThread(ctx, newTaskExecutionID, thread)
}

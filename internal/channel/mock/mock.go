// Package mock is a scripted channel. It answers every message the broker
// delivers with the next line from its "messages" variable, then with its
// "finalMessage" variable.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const (
	Subtype             = "mock"
	defaultFinalMessage = "mock-final-message"
)

type Channel struct {
	*channel.Base

	mu       sync.Mutex
	count    int
	received []channel.MessageRequest
	sessions []string
}

func New(cfg objects.Config) *Channel {
	return &Channel{Base: channel.NewBase(cfg)}
}

// Message records req and emits the scripted reply. Replies to the channel's
// own messages and empty final markers are skipped.
func (c *Channel) Message(ctx context.Context, req channel.MessageRequest) error {
	c.mu.Lock()
	c.received = append(c.received, req)
	if req.SenderID == c.Config().ID || (req.Final && req.Message == "") {
		c.mu.Unlock()
		return nil
	}
	text, ok := c.nextReply()
	c.mu.Unlock()
	if !ok {
		return nil
	}

	return c.Emit(ctx, channel.MessageEvent{
		ChannelID:       c.Config().ID,
		TaskExecutionID: req.TaskExecutionID,
		SenderID:        c.Config().ID,
		Users:           []string{req.SenderID},
		MessageID:       uuidx.NewString(),
		Message:         text,
		MessageType:     req.MessageType,
		Timestamp:       strfmt.DateTime(time.Now()),
	})
}

func (c *Channel) nextReply() (string, bool) {
	cfg := c.Config()
	final := cfg.StringVar("finalMessage", defaultFinalMessage)
	n := c.count
	c.count++

	if script, ok := cfg.Variables["messages"].([]any); ok {
		switch {
		case n < len(script):
			return fmt.Sprint(script[n]), true
		case n == len(script):
			return final, true
		default:
			return "", false
		}
	}

	end := intVar(cfg.Variables["endCount"])
	switch {
	case n > end:
		return "", false
	case n >= end-1:
		return final, true
	default:
		return fmt.Sprintf("mock-message-%d", n), true
	}
}

func intVar(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// EstablishSession binds the task execution to a thread named after it, or
// to originalMessageData["threadId"] when given.
func (c *Channel) EstablishSession(ctx context.Context, taskExecutionID string, originalMessageData map[string]string) error {
	c.mu.Lock()
	c.sessions = append(c.sessions, taskExecutionID)
	c.mu.Unlock()

	thread := originalMessageData["threadId"]
	if thread == "" {
		thread = "mock-thread-" + taskExecutionID
	}
	data := c.Data()
	if data == nil {
		return fmt.Errorf("mock channel %s: data cache not initialized", c.Config().ID)
	}
	return data.MapThread(ctx, taskExecutionID, thread)
}

func (c *Channel) Join(ctx context.Context, workerID, token, username, _ string) error {
	data := c.Data()
	if data == nil {
		return nil
	}
	if username == "" {
		username = workerID
	}
	if err := data.WorkerUserIDs.Set(ctx, workerID, username); err != nil {
		return err
	}
	return data.UserWorkerIDs.Set(ctx, username, workerID)
}

func (c *Channel) Leave(ctx context.Context, workerID string) error {
	data := c.Data()
	if data == nil {
		return nil
	}
	user, ok, err := data.WorkerUserIDs.Get(ctx, workerID)
	if err != nil || !ok {
		return err
	}
	if err := data.UserWorkerIDs.Delete(ctx, user); err != nil {
		return err
	}
	return data.WorkerUserIDs.Delete(ctx, workerID)
}

// Received returns every request delivered so far.
func (c *Channel) Received() []channel.MessageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.MessageRequest(nil), c.received...)
}

func (c *Channel) Sessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sessions...)
}

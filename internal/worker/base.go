// Package worker queues task executions for workers, bounded by each
// worker's WIP limit, and relays their responses.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

const responseBufferSize = 100

type Worker interface {
	objects.Object
	// Work starts a task execution. Results arrive later on Responses.
	Work(ctx context.Context, req WorkRequest) error
	// RemoveTask abandons a task execution.
	RemoveTask(ctx context.Context, taskExecutionID string)
	Responses() <-chan WorkResponse
}

type Base struct {
	cfg       objects.Config
	settings  Settings
	errs      chan objects.ObjectError
	responses chan WorkResponse
	done      chan struct{}
	once      sync.Once
}

func NewBase(cfg objects.Config) *Base {
	return &Base{
		cfg:       cfg,
		settings:  SettingsOf(cfg),
		errs:      make(chan objects.ObjectError, 1),
		responses: make(chan WorkResponse, responseBufferSize),
		done:      make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Settings() Settings { return b.settings }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

func (b *Base) Responses() <-chan WorkResponse { return b.responses }

func (b *Base) CanonicalOutputKey() string { return objects.Snake(b.cfg.Name) }

func (b *Base) ValidateObject(context.Context, any) error {
	return errors.New("worker " + b.cfg.Name + ": workers do not accept output")
}

func (b *Base) RemoveTask(context.Context, string) {}

// Emit reports the result of a task execution.
func (b *Base) Emit(ctx context.Context, resp WorkResponse) error {
	if resp.WorkerID == "" {
		resp.WorkerID = b.cfg.ID
	}
	if time.Time(resp.Timestamp).IsZero() {
		resp.Timestamp = strfmt.DateTime(time.Now())
	}
	select {
	case <-b.done:
		return fmt.Errorf("worker %s: destroyed", b.cfg.ID)
	default:
	}
	select {
	case <-b.done:
		return fmt.Errorf("worker %s: destroyed", b.cfg.ID)
	case <-ctx.Done():
		return ctx.Err()
	case b.responses <- resp:
		return nil
	}
}

func (b *Base) ReportError(err error) {
	select {
	case b.errs <- objects.NewObjectError(b.cfg.ID, err):
	default:
	}
}

func (b *Base) Done() <-chan struct{} { return b.done }

func (b *Base) Destroy(context.Context) error {
	b.once.Do(func() { close(b.done) })
	return nil
}

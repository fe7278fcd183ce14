package tool

import (
	"context"
	"slices"
	"sync"

	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// Tool is the capability set of an executable tool.
type Tool interface {
	objects.Object
	Execute(ctx context.Context, req Request) (Response, error)
	InitSession(ctx context.Context, taskExecutionID, workerID, channelID string) error
	WorkComplete(ctx context.Context, taskExecutionID string) error
	// GetState reconciles q.Current with whatever the tool knows externally.
	GetState(ctx context.Context, q StateQuery) (*objects.ToolState, error)
	TaskOutput(ctx context.Context, taskExecutionID string) (string, error)
	HasFunction(ctx context.Context, name string) bool
}

// Base provides the defaults shared by tools: no lifecycle hooks, state
// returned unchanged and a fixed function list.
type Base struct {
	cfg       objects.Config
	errs      chan objects.ObjectError
	functions []Function
	once      sync.Once
	done      chan struct{}
}

func NewBase(cfg objects.Config, functions ...Function) *Base {
	return &Base{
		cfg:       cfg,
		errs:      make(chan objects.ObjectError, 1),
		functions: functions,
		done:      make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

func (b *Base) CanonicalOutputKey() string { return "execute_" + b.cfg.Name }

func (b *Base) ValidateObject(context.Context, any) error { return nil }

func (b *Base) InitSession(context.Context, string, string, string) error { return nil }

func (b *Base) WorkComplete(context.Context, string) error { return nil }

func (b *Base) GetState(_ context.Context, q StateQuery) (*objects.ToolState, error) {
	return q.Current, nil
}

func (b *Base) TaskOutput(context.Context, string) (string, error) { return "", nil }

func (b *Base) Functions() []Function { return slices.Clone(b.functions) }

func (b *Base) HasFunction(_ context.Context, name string) bool {
	return slices.ContainsFunc(b.functions, func(f Function) bool { return f.Name == name })
}

func (b *Base) ReportError(err error) {
	select {
	case b.errs <- objects.NewObjectError(b.cfg.ID, err):
	default:
	}
}

// Done is closed by Destroy.
func (b *Base) Done() <-chan struct{} { return b.done }

func (b *Base) Destroy(context.Context) error {
	b.once.Do(func() { close(b.done) })
	return nil
}

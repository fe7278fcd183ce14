package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workforce-oss/workforce-sub002/internal/cache"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

const eventBufferSize = 100

// Channel is the capability set of a chat surface.
type Channel interface {
	objects.Object
	InitializeDataCache(ctx context.Context, backend *cache.Backend) error
	Message(ctx context.Context, req MessageRequest) error
	Join(ctx context.Context, workerID, token, username, taskExecutionID string) error
	Leave(ctx context.Context, workerID string) error
	EstablishSession(ctx context.Context, taskExecutionID string, originalMessageData map[string]string) error
	ThreadID(ctx context.Context, taskExecutionID string) (string, bool, error)
	ReleaseThread(ctx context.Context, id string) error
	HandOffSession(ctx context.Context, oldID, newTaskExecutionID string) error
	// Schema describes the final message argument Route accepts.
	Schema() *jsonschema.Schema
	// Events streams what the channel observes.
	Events() <-chan MessageEvent
}

// Base implements the parts of Channel that do not depend on the chat
// surface. Implementations embed it and call Emit for inbound traffic.
type Base struct {
	cfg    objects.Config
	errs   chan objects.ObjectError
	events chan MessageEvent
	done   chan struct{}
	once   sync.Once

	mu   sync.RWMutex
	data *DataCache
}

func NewBase(cfg objects.Config) *Base {
	return &Base{
		cfg:    cfg,
		errs:   make(chan objects.ObjectError, 1),
		events: make(chan MessageEvent, eventBufferSize),
		done:   make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

func (b *Base) Events() <-chan MessageEvent { return b.events }

// CanonicalOutputKey is final_message_<snake case name>.
func (b *Base) CanonicalOutputKey() string {
	return "final_message_" + objects.Snake(b.cfg.Name)
}

// ValidateObject accepts an object with a non-empty message.
func (b *Base) ValidateObject(_ context.Context, payload any) error {
	obj, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("channel %s: %s must be an object, got %T", b.cfg.Name, b.CanonicalOutputKey(), payload)
	}
	if msg, _ := obj["message"].(string); msg == "" {
		return fmt.Errorf("channel %s: %s.message is required", b.cfg.Name, b.CanonicalOutputKey())
	}
	return nil
}

// Schema describes the final message argument offered to models.
func (b *Base) Schema() *jsonschema.Schema {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("message", &jsonschema.Schema{
		Type:        "string",
		Description: "The final message to send to the channel " + b.cfg.Name,
	})
	return &jsonschema.Schema{
		Title:       b.CanonicalOutputKey(),
		Type:        "object",
		Description: fmt.Sprintf("Purpose: Send the final message to the channel %s.\nDescription: %s", b.cfg.Name, b.cfg.Description),
		Properties:  props,
		Required:    []string{"message"},
	}
}

func (b *Base) InitializeDataCache(_ context.Context, backend *cache.Backend) error {
	data, err := NewDataCache(backend, b.cfg.ID)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

// Data returns the data cache. It is nil before InitializeDataCache.
func (b *Base) Data() *DataCache {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

func (b *Base) dataCache() (*DataCache, error) {
	data := b.Data()
	if data == nil {
		return nil, fmt.Errorf("channel %s: data cache not initialized", b.cfg.ID)
	}
	return data, nil
}

func (b *Base) ThreadID(ctx context.Context, taskExecutionID string) (string, bool, error) {
	data, err := b.dataCache()
	if err != nil {
		return "", false, err
	}
	return data.ThreadID(ctx, taskExecutionID)
}

func (b *Base) ReleaseThread(ctx context.Context, id string) error {
	data, err := b.dataCache()
	if err != nil {
		return err
	}
	return data.Release(ctx, id)
}

func (b *Base) HandOffSession(ctx context.Context, oldID, newTaskExecutionID string) error {
	data, err := b.dataCache()
	if err != nil {
		return err
	}
	return data.HandOff(ctx, oldID, newTaskExecutionID)
}

// Emit hands an observed event to the broker. It gives up once the channel
// is destroyed or ctx is done.
func (b *Base) Emit(ctx context.Context, ev MessageEvent) error {
	if ev.ChannelID == "" {
		ev.ChannelID = b.cfg.ID
	}
	select {
	case <-b.done:
		return fmt.Errorf("channel %s: destroyed", b.cfg.ID)
	default:
	}
	select {
	case <-b.done:
		return fmt.Errorf("channel %s: destroyed", b.cfg.ID)
	case <-ctx.Done():
		return ctx.Err()
	case b.events <- ev:
		return nil
	}
}

// ReportError signals an unrecoverable failure. Only the first one is kept.
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

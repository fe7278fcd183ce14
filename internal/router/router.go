// Package router decides which object receives the output of a tool call
// and writes it there.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/workforce-oss/workforce-sub002/internal/channel"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/resource"
	"github.com/workforce-oss/workforce-sub002/internal/tool"
	"github.com/workforce-oss/workforce-sub002/internal/tracker"
	"github.com/workforce-oss/workforce-sub002/pkg/jsonx"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

// ErrInvalidOutput is returned when a tool call wrote a payload its
// destination does not accept. Processing of the tool call stops there.
var ErrInvalidOutput = errors.New("router: invalid output")

type Channels interface {
	GetObject(id string) (channel.Channel, bool)
	Message(ctx context.Context, req channel.MessageRequest) (string, error)
	ReleaseSession(ctx context.Context, channelID, id string) error
}

type Tools interface {
	GetObject(id string) (tool.Tool, bool)
}

type Trackers interface {
	GetObject(id string) (tracker.Tracker, bool)
	Create(ctx context.Context, req tracker.TicketCreateRequest) error
}

type Resources interface {
	GetObject(id string) (resource.Resource, bool)
	Write(ctx context.Context, req resource.WriteRequest) error
}

type Config struct {
	Channels  Channels
	Tools     Tools
	Trackers  Trackers
	Resources Resources
	Logger    *slog.Logger
}

func (c Config) validate() error {
	var err error
	if c.Channels == nil {
		err = errors.Join(err, errors.New("router: channels are required"))
	}
	if c.Tools == nil {
		err = errors.Join(err, errors.New("router: tools are required"))
	}
	if c.Trackers == nil {
		err = errors.Join(err, errors.New("router: trackers are required"))
	}
	if c.Resources == nil {
		err = errors.Join(err, errors.New("router: resources are required"))
	}
	return err
}

type Router struct {
	channels  Channels
	tools     Tools
	trackers  Trackers
	resources Resources
	log       *slog.Logger

	releases sync.WaitGroup
}

func New(cfg Config) (*Router, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default().With(slogx.LoggerName("workforce.router"))
	}
	return &Router{
		channels:  cfg.Channels,
		tools:     cfg.Tools,
		trackers:  cfg.Trackers,
		resources: cfg.Resources,
		log:       log,
	}, nil
}

// Route writes out to the first object whose canonical output key matches
// the argument, looking at tool outputs, then task outputs, then the
// default channel, then channels named in the task inputs. Channels of the
// task that do not match have their session released.
func (r *Router) Route(ctx context.Context, out Output) (Destination, error) {
	log := r.log.With(slogx.TaskExecutionID(out.TaskExecutionID), slog.String("argument", out.Argument))
	task := out.Task

	// Tool references go first so a tool-declared output wins over a task
	// output with the same key.
	for _, ref := range task.Tools {
		if ref.Output == "" {
			continue
		}
		if res, ok := r.resources.GetObject(ref.Output); ok && res.CanonicalOutputKey() == out.Argument {
			log.DebugContext(ctx, "routing to tool output resource", slogx.ObjectID(ref.Output))
			return Destination{Kind: objects.KindResource, ObjectID: ref.Output}, r.writeResource(ctx, out, res, true)
		}
	}

	for _, id := range task.Outputs {
		if res, ok := r.resources.GetObject(id); ok && res.CanonicalOutputKey() == out.Argument {
			log.DebugContext(ctx, "routing to task output resource", slogx.ObjectID(id))
			return Destination{Kind: objects.KindResource, ObjectID: id}, r.writeResource(ctx, out, res, false)
		}
		if ch, ok := r.channels.GetObject(id); ok && ch.CanonicalOutputKey() == out.Argument {
			log.DebugContext(ctx, "routing to task output channel", slogx.ObjectID(id))
			return Destination{Kind: objects.KindChannel, ObjectID: id}, r.writeChannel(ctx, out, ch)
		}
		if tr, ok := r.trackers.GetObject(id); ok && tr.CanonicalOutputKey() == out.Argument {
			log.DebugContext(ctx, "routing to task output tracker", slogx.ObjectID(id))
			return Destination{Kind: objects.KindTracker, ObjectID: id}, r.writeTracker(ctx, out, tr)
		}
	}

	if task.DefaultChannel != "" {
		if ch, ok := r.channels.GetObject(task.DefaultChannel); ok && ch.CanonicalOutputKey() == out.Argument {
			log.DebugContext(ctx, "routing to default channel", slogx.ObjectID(task.DefaultChannel))
			return Destination{Kind: objects.KindChannel, ObjectID: task.DefaultChannel}, r.writeChannel(ctx, out, ch)
		}
		r.release(ctx, task.DefaultChannel, out.TaskExecutionID)
		return Destination{}, nil
	}

	if task.Inputs != nil {
		for pair := task.Inputs.Oldest(); pair != nil; pair = pair.Next() {
			for _, id := range inputIDs(pair.Value) {
				ch, ok := r.channels.GetObject(id)
				if !ok {
					continue
				}
				if ch.CanonicalOutputKey() == out.Argument {
					log.DebugContext(ctx, "routing to input channel", slogx.ObjectID(id), slog.String("input", pair.Key))
					return Destination{Kind: objects.KindChannel, ObjectID: id}, r.writeChannel(ctx, out, ch)
				}
				r.release(ctx, id, out.TaskExecutionID)
			}
		}
	}

	log.DebugContext(ctx, "no destination for output")
	return Destination{}, nil
}

func (r *Router) writeResource(ctx context.Context, out Output, res resource.Resource, toolOutput bool) error {
	name := res.Config().Name
	items, err := jsonx.ToObjectArray(out.value())
	if err != nil {
		return fmt.Errorf("%w: task %s returned an invalid object for resource %s: %w", ErrInvalidOutput, out.Task.Name, name, err)
	}
	validate := res.ValidateObject
	if toolOutput {
		validate = res.ValidateToolOutput
	}
	if err := validate(ctx, items); err != nil {
		return fmt.Errorf("%w: task %s resource %s failed validation: %w", ErrInvalidOutput, out.Task.Name, name, err)
	}

	// Resolve every object before writing any so a bad element leaves the
	// resource untouched.
	writes := make([]resource.WriteRequest, 0, len(items))
	for i, item := range items {
		var content string
		if fn, _ := item[resource.FieldFunctionName].(string); fn != "" {
			content = r.functionOutput(ctx, out, fn)
		} else {
			content, _ = item["content"].(string)
		}
		if content == "" {
			return fmt.Errorf("%w: task %s returned object %d for resource %s without content", ErrInvalidOutput, out.Task.Name, i, name)
		}
		data, err := withContent(item, content)
		if err != nil {
			return fmt.Errorf("%w: task %s object %d for resource %s: %w", ErrInvalidOutput, out.Task.Name, i, name, err)
		}
		message, _ := item["message"].(string)
		writes = append(writes, resource.WriteRequest{
			ResourceID: res.Config().ID,
			RequestID:  uuidx.NewString(),
			Message:    message,
			Data:       data,
		})
	}
	for _, w := range writes {
		if err := r.resources.Write(ctx, w); err != nil {
			return fmt.Errorf("router: write resource %s: %w", name, err)
		}
	}
	return nil
}

// withContent copies item with its content field set.
func withContent(item map[string]any, content string) (map[string]any, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	raw, err = sjson.SetBytes(raw, "content", content)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// functionOutput returns the task output of the first task tool that offers
// the function, or "" when none does.
func (r *Router) functionOutput(ctx context.Context, out Output, function string) string {
	for _, ref := range out.Task.Tools {
		t, ok := r.tools.GetObject(ref.ID)
		if !ok || !t.HasFunction(ctx, function) {
			continue
		}
		output, err := t.TaskOutput(ctx, out.sessionID())
		if err != nil {
			r.log.ErrorContext(ctx, "failed to read tool output",
				slogx.ObjectID(ref.ID), slog.String("function", function), slogx.Error(err))
			return ""
		}
		return output
	}
	return ""
}

func (r *Router) writeChannel(ctx context.Context, out Output, ch channel.Channel) error {
	name := ch.Config().Name
	obj, ok := channelPayload(out.value())
	if !ok {
		return fmt.Errorf("%w: task %s returned an invalid object for channel %s", ErrInvalidOutput, out.Task.Name, name)
	}
	if err := ch.ValidateObject(ctx, obj); err != nil {
		return fmt.Errorf("%w: task %s returned an invalid object for channel %s: %w", ErrInvalidOutput, out.Task.Name, name, err)
	}

	message, _ := obj["message"].(string)
	completion, _ := obj["completionFunction"].(map[string]any)
	req := channel.MessageRequest{
		ChannelID:          ch.Config().ID,
		TaskExecutionID:    out.TaskExecutionID,
		SenderID:           out.Task.ID,
		WorkerID:           out.WorkerID,
		MessageType:        channel.MessageTypeMessage,
		CompletionFunction: completion,
	}

	first := req
	first.MessageID = uuidx.NewString()
	first.Message = message
	if _, err := r.channels.Message(ctx, first); err != nil {
		return fmt.Errorf("router: message channel %s: %w", name, err)
	}

	final := req
	final.MessageID = uuidx.NewString()
	final.Final = true
	if _, err := r.channels.Message(ctx, final); err != nil {
		return fmt.Errorf("router: close turn on channel %s: %w", name, err)
	}

	r.release(ctx, ch.Config().ID, out.TaskExecutionID)
	return nil
}

// channelPayload reads a channel output, which models sometimes send as a
// JSON string.
func channelPayload(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case string:
		res := gjson.Parse(jsonx.StripFences(val))
		if !res.IsObject() {
			return nil, false
		}
		obj, ok := res.Value().(map[string]any)
		return obj, ok
	default:
		return nil, false
	}
}

func (r *Router) writeTracker(ctx context.Context, out Output, tr tracker.Tracker) error {
	raw := out.value()
	if raw == nil {
		return nil
	}
	name := tr.Config().Name
	items, err := jsonx.ToObjectArray(raw)
	if err != nil {
		return fmt.Errorf("%w: task %s returned an invalid object for tracker %s: %w", ErrInvalidOutput, out.Task.Name, name, err)
	}
	if err := tr.ValidateObject(ctx, items); err != nil {
		return fmt.Errorf("%w: task %s returned an invalid object for tracker %s: %w", ErrInvalidOutput, out.Task.Name, name, err)
	}

	tickets := make([]tracker.TicketData, 0, len(items))
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("%w: task %s ticket %d for tracker %s: %w", ErrInvalidOutput, out.Task.Name, i, name, err)
		}
		var data tracker.TicketData
		if err := json.Unmarshal(b, &data); err != nil {
			return fmt.Errorf("%w: task %s ticket %d for tracker %s: %w", ErrInvalidOutput, out.Task.Name, i, name, err)
		}
		tickets = append(tickets, data)
	}

	// Each ticket is created on its own; one failing does not stop the rest.
	for _, data := range tickets {
		req := tracker.TicketCreateRequest{
			TrackerID: tr.Config().ID,
			RequestID: uuidx.NewString(),
			Input:     data,
		}
		if err := r.trackers.Create(ctx, req); err != nil {
			r.log.ErrorContext(ctx, "failed to create ticket",
				slogx.ObjectID(req.TrackerID), slogx.RequestID(req.RequestID), slogx.Error(err))
		}
	}
	return nil
}

// release drops the channel session of a task execution in the background;
// the channel holds the mapping for a short delay first.
func (r *Router) release(ctx context.Context, channelID, taskExecutionID string) {
	ctx = context.WithoutCancel(ctx)
	r.releases.Add(1)
	go func() {
		defer r.releases.Done()
		err := r.channels.ReleaseSession(ctx, channelID, taskExecutionID)
		switch {
		case err == nil:
		case errors.Is(err, channel.ErrNoThread):
			r.log.DebugContext(ctx, "no session to release",
				slogx.ObjectID(channelID), slogx.TaskExecutionID(taskExecutionID))
		default:
			r.log.WarnContext(ctx, "failed to release channel session",
				slogx.ObjectID(channelID), slogx.TaskExecutionID(taskExecutionID), slogx.Error(err))
		}
	}()
}

// Destroy waits for pending session releases until ctx is done.
func (r *Router) Destroy(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.releases.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.WarnContext(ctx, "gave up waiting for session releases", slogx.Error(ctx.Err()))
	}
}

// Package resource routes writes to versioned resources such as repositories
// or documents, and fans out the versions they publish.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/pkg/jsonx"
)

const versionBufferSize = 100

// FieldFunctionName names the tool function whose output fills a resource
// object.
const FieldFunctionName = "function_name"

type Resource interface {
	objects.Object
	Write(ctx context.Context, req WriteRequest) error
	// Refresh re-reads the backing store and emits a version when it moved.
	Refresh(ctx context.Context) error
	FetchObject(ctx context.Context, v Version, name string) (Object, error)
	// LatestVersion reports the last version emitted, if any.
	LatestVersion(ctx context.Context) (Version, bool)
	// ValidateToolOutput checks objects whose content comes from a tool
	// function named by FieldFunctionName.
	ValidateToolOutput(ctx context.Context, payload any) error
	Schema(toolOutput bool) *jsonschema.Schema
	Watch(ctx context.Context, fn func(context.Context, Version)) (stop func(), err error)
}

// Base implements versions, validation and schemas for resources.
type Base struct {
	cfg      objects.Config
	errs     chan objects.ObjectError
	versions chan Version
	done     chan struct{}
	once     sync.Once

	mu     sync.Mutex
	latest *Version
}

func NewBase(cfg objects.Config) *Base {
	return &Base{
		cfg:      cfg,
		errs:     make(chan objects.ObjectError, 1),
		versions: make(chan Version, versionBufferSize),
		done:     make(chan struct{}),
	}
}

func (b *Base) Config() objects.Config { return b.cfg }

func (b *Base) Errors() <-chan objects.ObjectError { return b.errs }

// CanonicalOutputKey is the plural snake case name, "design_docs" for a
// resource named "Design Doc".
func (b *Base) CanonicalOutputKey() string { return objects.Snake(b.cfg.Name) + "s" }

func (b *Base) Refresh(context.Context) error { return nil }

func (b *Base) FetchObject(_ context.Context, _ Version, name string) (Object, error) {
	return Object{}, fmt.Errorf("resource %s: object %s: %w", b.cfg.ID, name, objects.ErrNotFound)
}

func (b *Base) LatestVersion(context.Context) (Version, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return Version{}, false
	}
	return *b.latest, true
}

// Schema describes the objects argument. Tool outputs name the producing
// function instead of carrying content.
func (b *Base) Schema(toolOutput bool) *jsonschema.Schema {
	key := objects.Snake(b.cfg.Name)
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("name", &jsonschema.Schema{Type: "string", Description: "The name of the " + key})
	props.Set("message", &jsonschema.Schema{Type: "string", Description: "A message explaining the change to the " + key})
	required := []string{"name", "message"}
	if toolOutput {
		props.Set(FieldFunctionName, &jsonschema.Schema{Type: "string", Description: "The name of the function that created the " + key})
		required = append(required, FieldFunctionName)
	} else {
		desc := "The content of the " + key
		if example := b.cfg.StringVar("example", ""); example != "" {
			desc += "\nExample:\n" + example
		}
		props.Set("content", &jsonschema.Schema{Type: "string", Description: desc})
		required = append(required, "content")
	}
	return &jsonschema.Schema{
		Title: b.CanonicalOutputKey(),
		Type:  "array",
		Items: &jsonschema.Schema{
			Type:        "object",
			Description: fmt.Sprintf("Purpose: Create or update a %s.\nDescription: %s.", key, b.cfg.Description),
			Properties:  props,
			Required:    required,
		},
	}
}

func (b *Base) ValidateObject(_ context.Context, payload any) error {
	return b.validate(payload, false)
}

func (b *Base) ValidateToolOutput(_ context.Context, payload any) error {
	return b.validate(payload, true)
}

func (b *Base) validate(payload any, toolOutput bool) error {
	items, err := jsonx.ToObjectArray(payload)
	if err != nil {
		return fmt.Errorf("resource %s: %w", b.cfg.Name, err)
	}
	required := b.Schema(toolOutput).Items.Required
	var errs error
	for i, item := range items {
		for _, key := range required {
			if _, ok := item[key]; !ok {
				errs = errors.Join(errs, fmt.Errorf("resource %s: object %d: %s is required", b.cfg.Name, i, key))
			}
		}
	}
	return errs
}

// Emit records v as the latest version and hands it to the watcher.
func (b *Base) Emit(ctx context.Context, v Version) error {
	if v.ResourceID == "" {
		v.ResourceID = b.cfg.ID
	}
	select {
	case <-b.done:
		return fmt.Errorf("resource %s: destroyed", b.cfg.ID)
	default:
	}
	b.mu.Lock()
	b.latest = &v
	b.mu.Unlock()
	select {
	case <-b.done:
		return fmt.Errorf("resource %s: destroyed", b.cfg.ID)
	case <-ctx.Done():
		return ctx.Err()
	case b.versions <- v:
		return nil
	}
}

func (b *Base) Watch(ctx context.Context, fn func(context.Context, Version)) (func(), error) {
	if fn == nil {
		return nil, errors.New("resource: watch callback is required")
	}
	wctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-wctx.Done():
				return
			case <-b.done:
				return
			case v := <-b.versions:
				fn(wctx, v)
			}
		}
	}()
	return func() {
		cancel()
		<-stopped
	}, nil
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

// Package mock is an in-memory resource that keeps the last written object
// under a fixed name.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/resource"
)

const (
	Subtype    = "mock-resource"
	ObjectName = "mock-object-name"
	EventID    = "mock-event-id"
	VersionID  = "mock-version-id"
)

// ErrNoOutput is returned when an object is fetched before anything was
// written and no "output" variable is configured.
var ErrNoOutput = errors.New("mock: no output provided")

type Resource struct {
	*resource.Base

	mu      sync.Mutex
	objects map[string]resource.Object
	writes  []resource.WriteRequest
}

// New returns a resource that has already emitted its first version.
func New(cfg objects.Config) *Resource {
	r := &Resource{
		Base:    resource.NewBase(cfg),
		objects: make(map[string]resource.Object),
	}
	_ = r.emit(context.Background())
	return r
}

func (r *Resource) FetchObject(_ context.Context, _ resource.Version, name string) (resource.Object, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if obj, ok := r.objects[name]; ok {
		return obj, nil
	}
	output, ok := r.Config().Variables["output"].(map[string]any)
	if !ok {
		return resource.Object{}, ErrNoOutput
	}
	obj := resource.ObjectFromData(output)
	r.objects[name] = obj
	return obj, nil
}

func (r *Resource) Write(ctx context.Context, req resource.WriteRequest) error {
	r.mu.Lock()
	r.objects[ObjectName] = resource.ObjectFromData(req.Data)
	r.writes = append(r.writes, req)
	r.mu.Unlock()
	return r.emit(ctx)
}

func (r *Resource) Refresh(ctx context.Context) error { return r.emit(ctx) }

// Writes returns the requests written so far.
func (r *Resource) Writes() []resource.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]resource.WriteRequest(nil), r.writes...)
}

func (r *Resource) emit(ctx context.Context) error {
	return r.Emit(ctx, resource.Version{
		ResourceID:  r.Config().ID,
		EventID:     EventID,
		VersionID:   VersionID,
		Timestamp:   strfmt.DateTime(time.Now()),
		ObjectNames: []string{ObjectName},
		Metadata:    map[string]any{},
	})
}

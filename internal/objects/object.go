// Package objects holds what every pluggable object kind shares: its
// configuration, the capability contract the brokers rely on, and the base
// broker that keeps the registry of live instances.
package objects

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindChannel            Kind = "channel"
	KindTool               Kind = "tool"
	KindTracker            Kind = "tracker"
	KindResource           Kind = "resource"
	KindDocumentRepository Kind = "document_repository"
	KindWorker             Kind = "worker"
)

var (
	// ErrNotFound reports a request addressed to an object that is not
	// registered.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID is returned when registering an object without an id.
	ErrInvalidID = errors.New("object id is required")
)

// Config is the declarative definition an instance is built from.
type Config struct {
	ID          string         `json:"id" yaml:"id"`
	OrgID       string         `json:"orgId,omitempty" yaml:"org_id"`
	FlowID      string         `json:"flowId,omitempty" yaml:"flow_id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Kind        Kind           `json:"kind" yaml:"kind"`
	Subtype     string         `json:"subtype" yaml:"subtype"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables"`
}

func (c Config) Validate() error {
	var err error
	if c.ID == "" {
		err = errors.Join(err, ErrInvalidID)
	}
	if c.Name == "" {
		err = errors.Join(err, errors.New("object name is required"))
	}
	if c.Kind == "" {
		err = errors.Join(err, errors.New("object kind is required"))
	}
	return err
}

// StringVar returns the string variable key, or def when it is missing or
// not a string.
func (c Config) StringVar(key, def string) string {
	if v, ok := c.Variables[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ObjectError is reported by an instance that can no longer serve traffic.
type ObjectError struct {
	ObjectID  string
	Err       error
	Timestamp time.Time
}

func NewObjectError(objectID string, err error) ObjectError {
	return ObjectError{ObjectID: objectID, Err: err, Timestamp: time.Now()}
}

func (e ObjectError) Error() string {
	return fmt.Sprintf("object %s: %v", e.ObjectID, e.Err)
}

func (e ObjectError) Unwrap() error { return e.Err }

// Object is the capability set shared by every kind.
type Object interface {
	Config() Config
	// CanonicalOutputKey names the tool-call argument this object accepts
	// output for.
	CanonicalOutputKey() string
	// ValidateObject checks an output payload before it is written here.
	ValidateObject(ctx context.Context, payload any) error
	// Errors streams unrecoverable failures. A nil channel never reports.
	Errors() <-chan ObjectError
	Destroy(ctx context.Context) error
}

// NotFound wraps ErrNotFound with the kind and id that failed to resolve.
func NotFound(kind Kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

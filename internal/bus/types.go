package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

var (
	// ErrSubjectClosed is returned when publishing or subscribing to a
	// subject after Complete.
	ErrSubjectClosed = errors.New("bus: subject closed")
	// ErrHandlerRequired is returned by Subscribe when the handler is nil.
	ErrHandlerRequired = errors.New("bus: handler is required")
)

// Handler receives values published on a subject.
type Handler[T any] func(context.Context, T)

type Broker[T any] interface {
	Subject(name string) Subject[T]
}

type Subject[T any] interface {
	Name() string
	Publish(context.Context, T) error
	Subscribe(context.Context, Handler[T]) (Subscription, error)
	// Complete unsubscribes everyone and rejects further traffic.
	Complete()
}

type Subscription interface {
	ID() string
	Unsubscribe()
}

// Mode selects the backing of a Broker.
type Mode string

const (
	ModeLocal Mode = "in-memory"
	ModeNATS  Mode = "nats"
)

// Transport carries what New needs to build a broker for a mode.
type Transport struct {
	Mode Mode
	Conn *nats.Conn
}

// New returns a broker for the transport's mode. An empty mode means local.
func New[T any](t Transport) (Broker[T], error) {
	switch t.Mode {
	case "", ModeLocal:
		return Local[T](), nil
	case ModeNATS:
		if t.Conn == nil {
			return nil, fmt.Errorf("bus: nats mode requires a connection")
		}
		return NATS[T](t.Conn), nil
	default:
		return nil, fmt.Errorf("bus: unknown mode %q", t.Mode)
	}
}

// Must is New that panics on error.
func Must[T any](t Transport) Broker[T] {
	b, err := New[T](t)
	if err != nil {
		panic(err)
	}
	return b
}

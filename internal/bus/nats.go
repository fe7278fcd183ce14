package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

type natsBroker[T any] struct {
	client   *nats.Conn
	subjects *haxmap.Map[string, *natsSubject[T]]
}

// NATS returns a broker publishing JSON encoded values over client.
func NATS[T any](client *nats.Conn) Broker[T] {
	return &natsBroker[T]{
		client:   client,
		subjects: haxmap.New[string, *natsSubject[T]](),
	}
}

func (b *natsBroker[T]) Subject(name string) Subject[T] {
	s, _ := b.subjects.GetOrCompute(name, func() *natsSubject[T] {
		return &natsSubject[T]{
			name:          name,
			client:        b.client,
			subscriptions: haxmap.New[string, *natsSubscription](),
			onComplete:    func() { b.subjects.Del(name) },
		}
	})
	return s
}

type natsSubject[T any] struct {
	name          string
	client        *nats.Conn
	subscriptions *haxmap.Map[string, *natsSubscription]
	closed        atomic.Bool
	onComplete    func()
}

func (s *natsSubject[T]) Name() string { return s.name }

func (s *natsSubject[T]) Publish(ctx context.Context, value T) error {
	if s.closed.Load() {
		return ErrSubjectClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", s.name, err)
	}
	if err := s.client.Publish(s.name, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", s.name, err)
	}
	return nil
}

// Subscribe registers an async NATS subscription. The NATS client delivers
// messages of one subscription on a single goroutine, which preserves the one
// consumer per subscription model of the local backing.
func (s *natsSubject[T]) Subscribe(ctx context.Context, handler Handler[T]) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if s.closed.Load() {
		return nil, ErrSubjectClosed
	}

	sub := &natsSubscription{id: uuidx.NewString(), done: make(chan struct{})}
	sub.onClose = func() { s.subscriptions.Del(sub.id) }

	nsub, err := s.client.Subscribe(s.name, func(msg *nats.Msg) {
		select {
		case <-sub.done:
			return
		case <-ctx.Done():
			sub.Unsubscribe()
			return
		default:
		}

		var value T
		if err := json.Unmarshal(msg.Data, &value); err != nil {
			slog.Error("failed to decode bus message", slogx.Error(err), slog.String("subject", s.name))
			return
		}
		handler(ctx, value)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", s.name, err)
	}
	sub.attach(nsub)
	s.subscriptions.Set(sub.id, sub)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

func (s *natsSubject[T]) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.subscriptions.ForEach(func(_ string, sub *natsSubscription) bool {
		sub.Unsubscribe()
		return true
	})
	if s.onComplete != nil {
		s.onComplete()
	}
}

type natsSubscription struct {
	id        string
	mu        sync.Mutex
	sub       *nats.Subscription
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func (n *natsSubscription) attach(nsub *nats.Subscription) {
	n.mu.Lock()
	n.sub = nsub
	n.mu.Unlock()

	select {
	case <-n.done:
		n.drop(nsub)
	default:
	}
}

func (n *natsSubscription) drop(nsub *nats.Subscription) {
	if nsub == nil {
		return
	}
	if err := nsub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		slog.Error("failed to unsubscribe", slogx.Error(err), slog.String("subscription", n.id))
	}
}

func (n *natsSubscription) ID() string {
	return n.id
}

func (n *natsSubscription) Unsubscribe() {
	n.closeOnce.Do(func() {
		close(n.done)
		if n.onClose != nil {
			n.onClose()
		}
		n.mu.Lock()
		nsub := n.sub
		n.mu.Unlock()
		n.drop(nsub)
	})
}

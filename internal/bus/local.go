package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/fogfish/opts"
	"github.com/workforce-oss/workforce-sub002/pkg/uuidx"
)

const defaultBufferSize = 64

type localConfig struct {
	slowSubscriberTimeout time.Duration
	bufferSize            int
}

// LocalOption configures a local broker.
type LocalOption = opts.Option[localConfig]

var (
	// WithSlowSubscriberTimeout evicts a subscriber whose queue stays full for
	// longer than the timeout. Zero blocks the publisher instead.
	WithSlowSubscriberTimeout = opts.ForName[localConfig, time.Duration]("slowSubscriberTimeout")
	// WithBufferSize sets the per-subscription queue length.
	WithBufferSize = opts.ForName[localConfig, int]("bufferSize")
)

type localBroker[T any] struct {
	subjects              *haxmap.Map[string, *localSubject[T]]
	slowSubscriberTimeout time.Duration
	bufferSize            int
}

// Local returns an in-process broker.
func Local[T any](options ...LocalOption) Broker[T] {
	cfg := localConfig{bufferSize: defaultBufferSize}
	if err := opts.Apply(&cfg, options); err != nil {
		panic(err)
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = defaultBufferSize
	}
	return &localBroker[T]{
		subjects:              haxmap.New[string, *localSubject[T]](),
		slowSubscriberTimeout: cfg.slowSubscriberTimeout,
		bufferSize:            cfg.bufferSize,
	}
}

func (b *localBroker[T]) Subject(name string) Subject[T] {
	s, _ := b.subjects.GetOrCompute(name, func() *localSubject[T] {
		return &localSubject[T]{
			name:                  name,
			subscriptions:         haxmap.New[string, *localSubscription[T]](),
			slowSubscriberTimeout: b.slowSubscriberTimeout,
			bufferSize:            b.bufferSize,
			onComplete:            func() { b.subjects.Del(name) },
		}
	})
	return s
}

type localSubject[T any] struct {
	name                  string
	subscriptions         *haxmap.Map[string, *localSubscription[T]]
	slowSubscriberTimeout time.Duration
	bufferSize            int
	closed                atomic.Bool
	onComplete            func()
}

func (s *localSubject[T]) Name() string { return s.name }

func (s *localSubject[T]) Publish(ctx context.Context, value T) error {
	if s.closed.Load() {
		return ErrSubjectClosed
	}

	var err error
	s.subscriptions.ForEach(func(_ string, sub *localSubscription[T]) bool {
		if sub == nil {
			return true
		}
		err = s.deliver(ctx, sub, value)
		return err == nil
	})
	return err
}

func (s *localSubject[T]) deliver(ctx context.Context, sub *localSubscription[T], value T) error {
	var timeout <-chan time.Time
	if s.slowSubscriberTimeout > 0 {
		timer := time.NewTimer(s.slowSubscriberTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sub.done:
	case <-sub.ctx.Done():
		sub.Unsubscribe()
	case sub.queue <- value:
	case <-timeout:
		sub.Unsubscribe()
	}
	return nil
}

func (s *localSubject[T]) Subscribe(ctx context.Context, handler Handler[T]) (Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerRequired
	}
	if s.closed.Load() {
		return nil, ErrSubjectClosed
	}

	id := uuidx.NewString()
	sub := &localSubscription[T]{
		id:      id,
		ctx:     ctx,
		queue:   make(chan T, s.bufferSize),
		done:    make(chan struct{}),
		onClose: func() { s.subscriptions.Del(id) },
		handler: handler,
	}
	s.subscriptions.Set(id, sub)
	go sub.run()
	return sub, nil
}

func (s *localSubject[T]) Complete() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.subscriptions.ForEach(func(_ string, sub *localSubscription[T]) bool {
		sub.Unsubscribe()
		return true
	})
	if s.onComplete != nil {
		s.onComplete()
	}
}

type localSubscription[T any] struct {
	id        string
	ctx       context.Context
	queue     chan T
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
	handler   Handler[T]
}

func (s *localSubscription[T]) ID() string { return s.id }

// Unsubscribe stops delivery. The queue is never closed so a publisher racing
// with Unsubscribe cannot panic; it observes done instead.
func (s *localSubscription[T]) Unsubscribe() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.done)
	})
}

func (s *localSubscription[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Unsubscribe()
			return
		case value := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(s.ctx, value)
		}
	}
}

// Package daemon runs the fixed-interval reconciliation loops owned by the
// brokers: document sweeps and worker queue flushes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/workforce-oss/workforce-sub002/pkg/slogx"
)

// parser only accepts descriptors such as "@every 5s".
var parser = cron.NewParser(cron.Descriptor)

// ErrInvalidInterval is returned for intervals cron cannot schedule.
var ErrInvalidInterval = errors.New("daemon: interval must be at least one second")

// Every calls fn every interval until ctx is done or stop is called. A run
// that is still going when the next one is due is skipped. stop waits for a
// running call to return.
func Every(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) (stop func(), err error) {
	if fn == nil {
		return nil, errors.New("daemon: function is required")
	}
	if interval < time.Second {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	sched, err := parser.Parse("@every " + interval.String())
	if err != nil {
		return nil, fmt.Errorf("daemon: schedule %s: %w", name, err)
	}

	log := slog.Default().With(slogx.LoggerName("workforce.daemon"), slog.String("daemon", name))
	clog := cronLogger{log: log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	dctx, cancel := context.WithCancel(ctx)
	c.Schedule(sched, cron.FuncJob(func() {
		if dctx.Err() != nil {
			return
		}
		fn(dctx)
	}))
	c.Start()
	log.DebugContext(ctx, "daemon started", slog.Duration("interval", interval))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-dctx.Done()
		<-c.Stop().Done()
		log.DebugContext(context.WithoutCancel(ctx), "daemon stopped")
	}()

	return func() {
		cancel()
		<-stopped
	}, nil
}

// cronLogger adapts slog to the logger cron reports job panics and skips to.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{slogx.Error(err)}, keysAndValues...)...)
}

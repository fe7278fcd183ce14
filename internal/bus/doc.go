// Package bus is the typed publish/subscribe primitive the brokers use to
// hand requests, responses and events between callers and object instances.
//
// A Broker hands out named Subjects. Every subscription owns one consumer
// goroutine that delivers values to its Handler in publish order; calling
// Unsubscribe (or Complete on the subject) stops that goroutine and drops
// anything still queued.
//
// Two backings exist and callers never see which one they got:
//   - Local keeps everything in process.
//   - NATS encodes values as JSON and publishes them on a NATS subject of the
//     same name, so subscribers in other processes see them too. Ordering
//     across processes is not guaranteed.
//
// Example usage:
//
//	b := bus.Local[Request]()
//	subject := b.Subject("tool.request")
//	sub, _ := subject.Subscribe(ctx, func(ctx context.Context, req Request) {
//		// handle
//	})
//	defer sub.Unsubscribe()
//	_ = subject.Publish(ctx, Request{ID: "1"})
package bus

// Package mock is a worker that answers every task execution right away, or
// holds it in progress when the "hold" variable is set.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/worker"
)

const Subtype = "mock-worker"

type Worker struct {
	*worker.Base

	mu        sync.Mutex
	iteration int
	received  []worker.WorkRequest
	removed   []string
}

func New(cfg objects.Config) *Worker {
	return &Worker{Base: worker.NewBase(cfg)}
}

// Work answers with "worker-response-<n>", or with the tool call in the
// "output" variable when the prompt equals the "final_message" variable.
func (w *Worker) Work(ctx context.Context, req worker.WorkRequest) error {
	w.mu.Lock()
	w.received = append(w.received, req)
	n := w.iteration
	w.iteration++
	w.mu.Unlock()

	if hold, _ := w.Config().Variables["hold"].(bool); hold {
		return nil
	}
	resp := worker.WorkResponse{
		WorkerID:        w.Config().ID,
		TaskID:          req.TaskID,
		TaskExecutionID: req.TaskExecutionID,
	}
	if call := w.finalCall(req); call != nil {
		resp.ToolCall = call
	} else {
		resp.Output = fmt.Sprintf("worker-response-%d", n)
	}
	return w.Emit(ctx, resp)
}

func (w *Worker) finalCall(req worker.WorkRequest) *objects.ToolCall {
	final := w.Config().StringVar("final_message", "")
	output, ok := w.Config().Variables["output"].(map[string]any)
	if final == "" || !ok {
		return nil
	}
	prompt, _ := req.Input["prompt"].(string)
	if prompt != final {
		return nil
	}
	call := &objects.ToolCall{}
	call.Name, _ = output["name"].(string)
	call.Arguments, _ = output["arguments"].(map[string]any)
	return call
}

func (w *Worker) RemoveTask(_ context.Context, taskExecutionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = append(w.removed, taskExecutionID)
}

// Received returns the task execution ids handed to the worker, in order.
func (w *Worker) Received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.received))
	for _, req := range w.received {
		ids = append(ids, req.TaskExecutionID)
	}
	return ids
}

func (w *Worker) Removed() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.removed)
}

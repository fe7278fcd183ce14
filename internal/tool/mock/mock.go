// Package mock is a tool that always succeeds with fixed state.
package mock

import (
	"context"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	"github.com/workforce-oss/workforce-sub002/internal/tool"
)

const (
	Subtype      = "mock"
	FunctionName = "mock-function"
	TaskOutput   = "mock-task-output"
)

type Tool struct {
	*tool.Base
}

func New(cfg objects.Config) *Tool {
	return &Tool{Base: tool.NewBase(cfg, tool.Function{
		Name:        FunctionName,
		Description: "Does nothing useful",
	})}
}

func (t *Tool) Execute(_ context.Context, req tool.Request) (tool.Response, error) {
	return tool.Response{
		ToolID:          t.Config().ID,
		RequestID:       req.RequestID,
		Success:         true,
		TaskExecutionID: req.TaskExecutionID,
		Timestamp:       strfmt.DateTime(time.Now()),
		MachineMessage:  "Mock tool executed successfully.",
		MachineState:    map[string]any{"state": "test-machine-state"},
		HumanState: &objects.HumanState{
			Name:  "mock-tool",
			Type:  "iframe",
			Embed: "mock-embed",
		},
	}, nil
}

func (t *Tool) TaskOutput(context.Context, string) (string, error) {
	return t.Config().StringVar("output", TaskOutput), nil
}

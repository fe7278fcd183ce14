package worker

import (
	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// ChannelMessageDataKey is the input field carrying the channel message that
// started a task, as a JSON object of strings.
const ChannelMessageDataKey = "channelMessageData"

// WorkRequest hands one task execution to a worker.
type WorkRequest struct {
	WorkerID           string          `json:"workerId"`
	TaskID             string          `json:"taskId"`
	TaskExecutionID    string          `json:"taskExecutionId"`
	Timestamp          strfmt.DateTime `json:"timestamp"`
	ChannelID          string          `json:"channelId,omitempty"`
	ToolIDs            []string        `json:"tools,omitempty"`
	Documentation      []string        `json:"documentation,omitempty"`
	CostLimit          float64         `json:"costLimit,omitempty"`
	CompletionFunction map[string]any  `json:"completionFunction,omitempty"`
	Input              map[string]any  `json:"input"`
}

// WorkResponse ends a task execution with either a text output or the tool
// call that completed it.
type WorkResponse struct {
	WorkerID        string            `json:"workerId"`
	TaskID          string            `json:"taskId"`
	TaskExecutionID string            `json:"taskExecutionId"`
	Timestamp       strfmt.DateTime   `json:"timestamp"`
	Output          string            `json:"output,omitempty"`
	ToolCall        *objects.ToolCall `json:"toolCall,omitempty"`
}

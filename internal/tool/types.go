package tool

import (
	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

type Request struct {
	ToolID                  string            `json:"toolId"`
	RequestID               string            `json:"requestId"`
	ToolCall                objects.ToolCall  `json:"toolCall"`
	TaskExecutionID         string            `json:"taskExecutionId"`
	Timestamp               strfmt.DateTime   `json:"timestamp"`
	WorkerID                string            `json:"workerId,omitempty"`
	WorkerChannelUserConfig map[string]string `json:"workerChannelUserConfig,omitempty"`
	ChannelThreadID         string            `json:"channelThreadId,omitempty"`
	ChannelID               string            `json:"channelId,omitempty"`
	MachineState            map[string]any    `json:"machine_state,omitempty"`
}

type Response struct {
	ToolID          string              `json:"toolId"`
	RequestID       string              `json:"requestId"`
	Success         bool                `json:"success"`
	Timestamp       strfmt.DateTime     `json:"timestamp"`
	TaskExecutionID string              `json:"taskExecutionId"`
	UpdateChannelID string              `json:"updateChannelId,omitempty"`
	MachineMessage  string              `json:"machine_message,omitempty"`
	MachineState    map[string]any      `json:"machine_state,omitempty"`
	MachineImage    string              `json:"machine_image,omitempty"`
	HumanState      *objects.HumanState `json:"human_state,omitempty"`
	Image           string              `json:"image,omitempty"`
}

// HasState reports whether the response carries state worth keeping.
func (r Response) HasState() bool {
	return r.MachineState != nil || r.HumanState != nil
}

// StateQuery asks for the state of a task execution. Current is filled in by
// the broker before a tool reconciles it.
type StateQuery struct {
	TaskExecutionID string
	ChannelID       string
	ChannelThreadID string
	WorkerID        string
	Current         *objects.ToolState
}

// Function describes one callable a tool offers to models.
type Function struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

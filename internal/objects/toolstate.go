package objects

import "github.com/go-openapi/strfmt"

// HumanState tells a UI how to present a tool to people, usually as an
// embedded frame.
type HumanState struct {
	Name      string `json:"name,omitempty"`
	Type      string `json:"type,omitempty"`
	Embed     string `json:"embed,omitempty"`
	DirectURL string `json:"directUrl,omitempty"`
}

// ToolState is what a tool knows about one task execution.
type ToolState struct {
	ToolID          string          `json:"toolId"`
	TaskExecutionID string          `json:"taskExecutionId"`
	MachineState    map[string]any  `json:"machineState,omitempty"`
	MachineImage    string          `json:"machineImage,omitempty"`
	HumanState      *HumanState     `json:"humanState,omitempty"`
	Timestamp       strfmt.DateTime `json:"timestamp"`
}

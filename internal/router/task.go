package router

import (
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolReference is a tool a task may call. Output names the resource that
// receives what the tool call writes.
type ToolReference struct {
	ID     string `json:"id" yaml:"id"`
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// Task is the routing view of a task config.
type Task struct {
	ID             string          `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	DefaultChannel string          `json:"defaultChannel,omitempty" yaml:"defaultChannel,omitempty"`
	Tools          []ToolReference `json:"tools,omitempty" yaml:"tools,omitempty"`
	Outputs        []string        `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	// Inputs maps an input name to an object id or a list of ids, in
	// declaration order.
	Inputs *orderedmap.OrderedMap[string, any] `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Output is one argument of a finished tool call.
type Output struct {
	Task            Task
	Result          objects.ToolCall
	Argument        string
	TaskExecutionID string
	WorkerID        string
	// SessionID is handed to tools resolving function_name references. It
	// defaults to TaskExecutionID.
	SessionID string
}

func (o Output) sessionID() string {
	if o.SessionID != "" {
		return o.SessionID
	}
	return o.TaskExecutionID
}

func (o Output) value() any {
	return o.Result.Arguments[o.Argument]
}

// Destination is the object an output was written to.
type Destination struct {
	Kind     objects.Kind
	ObjectID string
}

// IsZero reports that no object received the output.
func (d Destination) IsZero() bool { return d.ObjectID == "" }

// inputIDs flattens an input value into the object ids it names.
func inputIDs(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []any:
		ids := make([]string, 0, len(val))
		for _, elem := range val {
			if id, ok := elem.(string); ok {
				ids = append(ids, id)
			}
		}
		return ids
	default:
		return nil
	}
}

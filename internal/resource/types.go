package resource

import "github.com/go-openapi/strfmt"

// Object is one named document held by a resource.
type Object struct {
	Name     string         `json:"name"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type WriteRequest struct {
	ResourceID string         `json:"resourceId"`
	RequestID  string         `json:"requestId"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
}

// Version announces a new state of a resource and the objects it touched.
type Version struct {
	ResourceID  string          `json:"resourceId"`
	EventID     string          `json:"eventId"`
	VersionID   string          `json:"versionId"`
	Timestamp   strfmt.DateTime `json:"timestamp"`
	ObjectNames []string        `json:"objectNames"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// ObjectFromData reads the name, content and metadata fields of a write.
func ObjectFromData(data map[string]any) Object {
	obj := Object{}
	obj.Name, _ = data["name"].(string)
	obj.Content, _ = data["content"].(string)
	obj.Metadata, _ = data["metadata"].(map[string]any)
	return obj
}

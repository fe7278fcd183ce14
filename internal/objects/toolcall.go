package objects

import (
	"strings"
	"unicode"

	"github.com/go-openapi/strfmt"
)

// ToolCall is a function call made by a model during a task execution.
type ToolCall struct {
	Name          string          `json:"name"`
	Arguments     map[string]any  `json:"arguments"`
	CallID        string          `json:"call_id,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Result        string          `json:"result,omitempty"`
	Image         string          `json:"image,omitempty"`
	HumanState    map[string]any  `json:"humanState,omitempty"`
	ToolRequestID string          `json:"toolRequestId,omitempty"`
	ToolType      string          `json:"toolType,omitempty"`
	Timestamp     strfmt.DateTime `json:"timestamp,omitempty"`
}

// Snake lower-cases name and joins its words with underscores, splitting on
// any non alphanumeric rune and on lower to upper case transitions.
func Snake(name string) string {
	var b strings.Builder
	prevLower, pendingSep := false, false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				pendingSep = true
			}
			prevLower = false
			r = unicode.ToLower(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevLower = true
		default:
			pendingSep = b.Len() > 0
			prevLower = false
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

package channel

import (
	"github.com/go-openapi/strfmt"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
)

// Message types carried by channel traffic. An event without a type is a
// chat message.
const (
	MessageTypeChatMessage  = "chat-message"
	MessageTypeMessage      = "message"
	MessageTypeToolResponse = "tool_response"
	MessageTypeToolCall     = "tool_call"
)

// MessageRequest asks a channel to deliver a message, or wraps a message a
// channel received inside a task session.
type MessageRequest struct {
	ChannelID          string             `json:"channelId"`
	WorkerID           string             `json:"workerId,omitempty"`
	TaskExecutionID    string             `json:"taskExecutionId,omitempty"`
	SenderID           string             `json:"senderId,omitempty"`
	MessageID          string             `json:"messageId"`
	Message            string             `json:"message"`
	Timestamp          strfmt.DateTime    `json:"timestamp"`
	Image              string             `json:"image,omitempty"`
	ToolCalls          []objects.ToolCall `json:"toolCalls,omitempty"`
	Final              bool               `json:"final,omitempty"`
	Username           string             `json:"username,omitempty"`
	NewConversation    bool               `json:"newConversation,omitempty"`
	ChannelMessageData map[string]any     `json:"channelMessageData,omitempty"`
	IgnoreResponse     bool               `json:"ignoreResponse,omitempty"`
	MessageType        string             `json:"messageType,omitempty"`
	CompletionFunction map[string]any     `json:"completionFunction,omitempty"`
}

// MessageEvent is something a channel observed: a user message, a worker
// reply, a tool call.
type MessageEvent struct {
	ChannelID          string             `json:"channelId"`
	SenderID           string             `json:"senderId"`
	MessageID          string             `json:"messageId"`
	Message            string             `json:"message"`
	Users              []string           `json:"users,omitempty"`
	Image              string             `json:"image,omitempty"`
	TaskExecutionID    string             `json:"taskExecutionId,omitempty"`
	ChannelMessageData map[string]any     `json:"channelMessageData,omitempty"`
	MessageType        string             `json:"messageType,omitempty"`
	ToolCalls          []objects.ToolCall `json:"toolCalls,omitempty"`
	Timestamp          strfmt.DateTime    `json:"timestamp"`
}

// Type returns the message type, defaulting to a chat message.
func (e MessageEvent) Type() string {
	if e.MessageType == "" {
		return MessageTypeChatMessage
	}
	return e.MessageType
}

// requestEnvelope travels on the request subject so the handler can update
// the audit row written by Message.
type requestEnvelope struct {
	AuditID string         `json:"auditId"`
	Request MessageRequest `json:"request"`
}

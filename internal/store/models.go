package store

import "time"

// Audit statuses shared by channel messages and tool requests.
const (
	StatusAwaitingResponse  = "awaiting-response"
	StatusResponseReceived  = "response-received"
	StatusError             = "error"
	StatusStarted           = "started"
	StatusComplete          = "complete"
	StatusCompleted         = "completed"
	StatusSuccess           = "success"
	StatusFailed            = "failed"
	StatusQueued            = "queued"
	StatusInProgress        = "in-progress"
	StatusUploaded          = "uploaded"
	StatusIndexed           = "indexed"
	StatusDeleted           = "deleted"
	StatusActive            = "active"
	TicketRequestTypeCreate = "create"
	TicketRequestTypeUpdate = "update"
)

// ChannelMessage is the audit row for a message sent to or received from a
// channel. ID is the message id.
type ChannelMessage struct {
	ID              string `gorm:"primaryKey;size:64"`
	ChannelID       string `gorm:"size:64;index"`
	TaskExecutionID string `gorm:"size:64;index"`
	SenderID        string `gorm:"size:64"`
	Status          string `gorm:"size:32;index"`
	Request         string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChannelSession records the binding of a task execution to a channel.
type ChannelSession struct {
	ID              string `gorm:"primaryKey;size:64"`
	ChannelID       string `gorm:"size:64;uniqueIndex:idx_channel_session"`
	TaskExecutionID string `gorm:"size:64;uniqueIndex:idx_channel_session"`
	ChannelThreadID string `gorm:"size:128"`
	Status          string `gorm:"size:32"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ToolRequest struct {
	ID              string `gorm:"primaryKey;size:64"`
	ToolID          string `gorm:"size:64;index"`
	TaskExecutionID string `gorm:"size:64;index"`
	Status          string `gorm:"size:32;index"`
	Request         string `gorm:"type:text"`
	Response        string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ToolStateSnapshot holds the last known state of a tool for one task
// execution. States are JSON documents.
type ToolStateSnapshot struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	ToolID          string `gorm:"size:64;uniqueIndex:idx_tool_state"`
	TaskExecutionID string `gorm:"size:64;uniqueIndex:idx_tool_state"`
	MachineState    string `gorm:"type:text"`
	HumanState      string `gorm:"type:text"`
	MachineImage    string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TicketRequest struct {
	ID        string `gorm:"primaryKey;size:64"`
	TrackerID string `gorm:"size:64;index"`
	Type      string `gorm:"size:16"`
	Status    string `gorm:"size:32;index"`
	Input     string `gorm:"type:text"`
	Error     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ticket mirrors the latest known state of a ticket reported by a tracker.
type Ticket struct {
	ID        string `gorm:"primaryKey;size:128"`
	TrackerID string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:32"`
	Data      string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ResourceWrite struct {
	ID         string `gorm:"primaryKey;size:64"`
	ResourceID string `gorm:"size:64;index"`
	Status     string `gorm:"size:32;index"`
	Message    string `gorm:"type:text"`
	Data       string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ResourceVersion struct {
	ID         string `gorm:"primaryKey;size:128"`
	ResourceID string `gorm:"size:64;index"`
	Data       string `gorm:"type:text"`
	CreatedAt  time.Time
}

type Document struct {
	ID           string `gorm:"primaryKey;size:64"`
	RepositoryID string `gorm:"size:64;index"`
	Name         string `gorm:"size:255"`
	Location     string `gorm:"size:1024"`
	Status       string `gorm:"size:32;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DocumentRepository struct {
	ID        string `gorm:"primaryKey;size:64"`
	OrgID     string `gorm:"size:64;index"`
	Status    string `gorm:"size:32;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WorkRequest struct {
	ID              string `gorm:"primaryKey;size:64"`
	WorkerID        string `gorm:"size:64;index"`
	TaskExecutionID string `gorm:"size:64;uniqueIndex"`
	Status          string `gorm:"size:32;index"`
	Request         string `gorm:"type:text"`
	Response        string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AllModels returns every model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&ChannelMessage{},
		&ChannelSession{},
		&ToolRequest{},
		&ToolStateSnapshot{},
		&TicketRequest{},
		&Ticket{},
		&ResourceWrite{},
		&ResourceVersion{},
		&Document{},
		&DocumentRepository{},
		&WorkRequest{},
	}
}

package tracker

type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketReady      TicketStatus = "ready"
	TicketInProgress TicketStatus = "in-progress"
	TicketCompleted  TicketStatus = "completed"
	TicketClosed     TicketStatus = "closed"
	TicketFailed     TicketStatus = "failed"
	TicketArchived   TicketStatus = "archived"
	TicketDeleted    TicketStatus = "deleted"
	TicketUnknown    TicketStatus = "unknown"
)

type TicketData struct {
	Name          string         `json:"name"`
	Status        TicketStatus   `json:"status,omitempty"`
	URL           string         `json:"url,omitempty"`
	Description   string         `json:"description,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Assignee      string         `json:"assignee,omitempty"`
	Reporter      string         `json:"reporter,omitempty"`
	Labels        []string       `json:"labels,omitempty"`
	Attachments   []string       `json:"attachments,omitempty"`
	Comments      []string       `json:"comments,omitempty"`
	DueDate       string         `json:"dueDate,omitempty"`
	StartDate     string         `json:"startDate,omitempty"`
	EndDate       string         `json:"endDate,omitempty"`
	EstimatedTime string         `json:"estimatedTime,omitempty"`
	LoggedTime    string         `json:"loggedTime,omitempty"`
	RemainingTime string         `json:"remainingTime,omitempty"`
	Watchers      []string       `json:"watchers,omitempty"`
	Links         []string       `json:"links,omitempty"`
	CustomFields  map[string]any `json:"customFields,omitempty"`
}

// Merge returns d with every field set in o applied on top.
func (d TicketData) Merge(o TicketData) TicketData {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	list := func(dst *[]string, src []string) {
		if src != nil {
			*dst = src
		}
	}
	set(&d.Name, o.Name)
	if o.Status != "" {
		d.Status = o.Status
	}
	set(&d.URL, o.URL)
	set(&d.Description, o.Description)
	set(&d.Priority, o.Priority)
	set(&d.Assignee, o.Assignee)
	set(&d.Reporter, o.Reporter)
	list(&d.Labels, o.Labels)
	list(&d.Attachments, o.Attachments)
	list(&d.Comments, o.Comments)
	set(&d.DueDate, o.DueDate)
	set(&d.StartDate, o.StartDate)
	set(&d.EndDate, o.EndDate)
	set(&d.EstimatedTime, o.EstimatedTime)
	set(&d.LoggedTime, o.LoggedTime)
	set(&d.RemainingTime, o.RemainingTime)
	list(&d.Watchers, o.Watchers)
	list(&d.Links, o.Links)
	if o.CustomFields != nil {
		merged := make(map[string]any, len(d.CustomFields)+len(o.CustomFields))
		for k, v := range d.CustomFields {
			merged[k] = v
		}
		for k, v := range o.CustomFields {
			merged[k] = v
		}
		d.CustomFields = merged
	}
	return d
}

type TicketCreateRequest struct {
	TrackerID string     `json:"trackerId"`
	RequestID string     `json:"requestId"`
	Input     TicketData `json:"input"`
}

type TicketUpdateRequest struct {
	TrackerID      string     `json:"trackerId"`
	TicketID       string     `json:"ticketId"`
	TicketUpdateID string     `json:"ticketUpdateId"`
	Data           TicketData `json:"data"`
}

// TicketEvent reports the current state of a ticket as the tracker sees it.
type TicketEvent struct {
	TrackerID     string     `json:"trackerId"`
	TicketID      string     `json:"ticketId"`
	TicketEventID string     `json:"ticketEventId"`
	Data          TicketData `json:"data"`
}

type Ticket struct {
	TrackerID string       `json:"trackerId"`
	TicketID  string       `json:"ticketId"`
	Status    TicketStatus `json:"status"`
	Data      TicketData   `json:"data"`
}

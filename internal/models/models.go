package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the maximum reminder text length in characters.
const MaxTextLength = 500

// Date and time-of-day layouts used on the wire and in the store.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Priority represents reminder priority
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM" // default
	PriorityHigh   Priority = "HIGH"
)

// SyncStatus tracks whether a local row matches the server.
type SyncStatus string

const (
	StatusSynced   SyncStatus = "SYNCED"
	StatusPending  SyncStatus = "PENDING"
	StatusConflict SyncStatus = "CONFLICT"
)

// OpType is the kind of mutation carried by an outbox operation.
type OpType string

const (
	OpCreate OpType = "CREATE"
	OpUpdate OpType = "UPDATE"
	OpDelete OpType = "DELETE"
)

// Validation errors
var (
	ErrTextRequired    = errors.New("text is required")
	ErrTextTooLong     = fmt.Errorf("text exceeds %d characters", MaxTextLength)
	ErrInvalidPriority = errors.New("priority must be LOW, MEDIUM or HIGH")
	ErrInvalidDate     = errors.New("reminder date must be YYYY-MM-DD")
	ErrInvalidTime     = errors.New("reminder time must be HH:MM")
)

// Reminder is the local record of a reminder. ID is the server id and is 0
// until the server has accepted the create; LocalID is always set.
type Reminder struct {
	ID            int64      `json:"id,omitempty"`
	LocalID       string     `json:"localId"`
	Text          string     `json:"text"`
	Completed     bool       `json:"completed"`
	ReminderDate  string     `json:"reminderDate"`
	ReminderTime  string     `json:"reminderTime,omitempty"`
	IsAllDay      bool       `json:"isAllDay"`
	Priority      Priority   `json:"priority"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	SyncStatus    SyncStatus `json:"syncStatus"`
	LastModified  time.Time  `json:"lastModified"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
	ServerVersion string     `json:"serverVersion,omitempty"`
}

// RemoteReminder is the server representation of a reminder.
type RemoteReminder struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	Completed    bool      `json:"completed"`
	ReminderDate string    `json:"reminderDate"`
	ReminderTime string    `json:"reminderTime,omitempty"`
	IsAllDay     bool      `json:"isAllDay"`
	Priority     Priority  `json:"priority"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Version returns the version token of the server copy.
func (r RemoteReminder) Version() string {
	return VersionOf(r.UpdatedAt)
}

// VersionOf formats an updatedAt timestamp as a version token. Tokens are
// compared as strings, so every producer goes through this function.
func VersionOf(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// FromRemote builds a SYNCED local row from a server copy.
func FromRemote(rr RemoteReminder, localID string) Reminder {
	return Reminder{
		ID:            rr.ID,
		LocalID:       localID,
		Text:          rr.Text,
		Completed:     rr.Completed,
		ReminderDate:  rr.ReminderDate,
		ReminderTime:  rr.ReminderTime,
		IsAllDay:      rr.IsAllDay,
		Priority:      NormalizePriority(rr.Priority),
		CreatedAt:     rr.CreatedAt.UTC(),
		UpdatedAt:     rr.UpdatedAt.UTC(),
		SyncStatus:    StatusSynced,
		ServerVersion: rr.Version(),
	}
}

// Remote returns the server representation of the local row.
func (r Reminder) Remote() RemoteReminder {
	return RemoteReminder{
		ID:           r.ID,
		Text:         r.Text,
		Completed:    r.Completed,
		ReminderDate: r.ReminderDate,
		ReminderTime: r.ReminderTime,
		IsAllDay:     r.IsAllDay,
		Priority:     r.Priority,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// IsDeleted reports whether the row is a local tombstone.
func (r Reminder) IsDeleted() bool {
	return r.DeletedAt != nil
}

// SameContent reports whether two rows carry the same user-visible fields,
// server identity and sync bookkeeping. LastModified is ignored.
func (r Reminder) SameContent(o Reminder) bool {
	if (r.DeletedAt == nil) != (o.DeletedAt == nil) {
		return false
	}
	if r.DeletedAt != nil && !r.DeletedAt.Equal(*o.DeletedAt) {
		return false
	}
	return r.ID == o.ID &&
		r.LocalID == o.LocalID &&
		r.Text == o.Text &&
		r.Completed == o.Completed &&
		r.ReminderDate == o.ReminderDate &&
		r.ReminderTime == o.ReminderTime &&
		r.IsAllDay == o.IsAllDay &&
		r.Priority == o.Priority &&
		r.CreatedAt.Equal(o.CreatedAt) &&
		r.UpdatedAt.Equal(o.UpdatedAt) &&
		r.SyncStatus == o.SyncStatus &&
		r.ServerVersion == o.ServerVersion
}

// Validate checks the domain fields.
func (r Reminder) Validate() error {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return ErrTextRequired
	}
	if utf8.RuneCountInString(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	if !IsValidPriority(r.Priority) {
		return ErrInvalidPriority
	}
	if r.ReminderDate != "" {
		if _, err := time.Parse(DateLayout, r.ReminderDate); err != nil {
			return ErrInvalidDate
		}
	}
	if r.ReminderTime != "" {
		if _, err := time.Parse(TimeLayout, r.ReminderTime); err != nil {
			return ErrInvalidTime
		}
	}
	return nil
}

// ReminderPatch is a partial update. Nil fields are left unchanged. The JSON
// form doubles as the request body for create and update calls.
type ReminderPatch struct {
	Text         *string   `json:"text,omitempty"`
	Completed    *bool     `json:"completed,omitempty"`
	ReminderDate *string   `json:"reminderDate,omitempty"`
	ReminderTime *string   `json:"reminderTime,omitempty"`
	IsAllDay     *bool     `json:"isAllDay,omitempty"`
	Priority     *Priority `json:"priority,omitempty"`
}

// FullPatch returns a patch that sets every domain field of r.
func FullPatch(r Reminder) ReminderPatch {
	text, completed, date, tod, allDay, prio := r.Text, r.Completed, r.ReminderDate, r.ReminderTime, r.IsAllDay, r.Priority
	return ReminderPatch{
		Text:         &text,
		Completed:    &completed,
		ReminderDate: &date,
		ReminderTime: &tod,
		IsAllDay:     &allDay,
		Priority:     &prio,
	}
}

// IsEmpty reports whether the patch changes nothing.
func (p ReminderPatch) IsEmpty() bool {
	return p.Text == nil && p.Completed == nil && p.ReminderDate == nil &&
		p.ReminderTime == nil && p.IsAllDay == nil && p.Priority == nil
}

// Apply returns a copy of r with the patch applied.
func (p ReminderPatch) Apply(r Reminder) Reminder {
	if p.Text != nil {
		r.Text = *p.Text
	}
	if p.Completed != nil {
		r.Completed = *p.Completed
	}
	if p.ReminderDate != nil {
		r.ReminderDate = *p.ReminderDate
	}
	if p.ReminderTime != nil {
		r.ReminderTime = *p.ReminderTime
	}
	if p.IsAllDay != nil {
		r.IsAllDay = *p.IsAllDay
	}
	if p.Priority != nil {
		r.Priority = NormalizePriority(*p.Priority)
	}
	if r.IsAllDay {
		r.ReminderTime = ""
	}
	return r
}

// ApplyRemote returns a copy of rr with the patch applied. The reference
// server uses it to merge PUT bodies.
func (p ReminderPatch) ApplyRemote(rr RemoteReminder) RemoteReminder {
	r := p.Apply(Reminder{
		Text:         rr.Text,
		Completed:    rr.Completed,
		ReminderDate: rr.ReminderDate,
		ReminderTime: rr.ReminderTime,
		IsAllDay:     rr.IsAllDay,
		Priority:     rr.Priority,
	})
	rr.Text, rr.Completed, rr.ReminderDate = r.Text, r.Completed, r.ReminderDate
	rr.ReminderTime, rr.IsAllDay, rr.Priority = r.ReminderTime, r.IsAllDay, r.Priority
	return rr
}

// Operation is one queued mutation in the outbox.
type Operation struct {
	ID          string          `json:"id"`
	Seq         int64           `json:"seq"`
	Type        OpType          `json:"type"`
	TargetID    int64           `json:"targetId"`
	LocalID     string          `json:"localId"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	BaseVersion string          `json:"baseVersion,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	RetryCount  int             `json:"retryCount"`
	LastError   string          `json:"lastError,omitempty"`
	Failed      bool            `json:"failed"`
}

// Patch decodes the operation payload.
func (op Operation) Patch() (ReminderPatch, error) {
	var p ReminderPatch
	if len(op.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(op.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", op.Type, err)
	}
	return p, nil
}

// NewPayload encodes a patch as an operation payload.
func NewPayload(p ReminderPatch) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Conflict is a stored server snapshot for an entity whose local copy
// diverged from a server version it did not expect.
type Conflict struct {
	LocalID    string         `json:"localId"`
	Server     RemoteReminder `json:"server"`
	Deleted    bool           `json:"deleted,omitempty"` // server copy no longer exists
	Reason     string         `json:"reason"`
	DetectedAt time.Time      `json:"detectedAt"`
}

// ReminderFilter narrows List queries. Zero values match everything.
type ReminderFilter struct {
	Completed      *bool
	Priority       Priority
	Status         SyncStatus
	From           string // inclusive YYYY-MM-DD
	To             string // inclusive YYYY-MM-DD
	Query          string // substring match on text
	IncludeDeleted bool
}

// Stats summarizes the local store.
type Stats struct {
	Total         int              `json:"total"`
	Completed     int              `json:"completed"`
	Synced        int              `json:"synced"`
	Pending       int              `json:"pending"`
	Conflicts     int              `json:"conflicts"`
	Deleted       int              `json:"deleted"`
	QueuedOps     int              `json:"queuedOps"`
	FailedOps     int              `json:"failedOps"`
	ByPriority    map[Priority]int `json:"byPriority"`
	LastSyncTime  time.Time        `json:"lastSyncTime,omitempty"`
	DBSizeBytes   int64            `json:"dbSizeBytes"`
	SchemaVersion int              `json:"schemaVersion"`
}

// IsValidPriority checks if a priority is valid
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// NormalizePriority converts alternate spellings to canonical form.
// Unknown values map to MEDIUM.
func NormalizePriority(p Priority) Priority {
	switch strings.ToUpper(strings.TrimSpace(string(p))) {
	case "LOW", "L", "1":
		return PriorityLow
	case "HIGH", "H", "3":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// ParsePriority parses user input, rejecting unknown values.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW", "L", "1":
		return PriorityLow, nil
	case "MEDIUM", "MED", "M", "2":
		return PriorityMedium, nil
	case "HIGH", "H", "3":
		return PriorityHigh, nil
	}
	return "", ErrInvalidPriority
}

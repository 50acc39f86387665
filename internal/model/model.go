package model

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

type Status string

const (
	StatusOffline Status = "offline"
	StatusWorking Status = "working"
	StatusBreak   Status = "break"
)

func (s Status) Valid() bool {
	return s == StatusOffline || s == StatusWorking || s == StatusBreak
}

type Action string

const (
	ActionStartWork  Action = "start_work"
	ActionStartBreak Action = "start_break"
	ActionEndBreak   Action = "end_break"
	ActionEndWork    Action = "end_work"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStartWork, ActionStartBreak, ActionEndBreak, ActionEndWork:
		return true
	default:
		return false
	}
}

// Identity is one authenticatable principal. BreakStartAt is only meaningful
// while an open break interval exists for the current calendar day.
type Identity struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         Role       `json:"role"`
	Status       Status     `json:"status"`
	BreakStartAt *time.Time `json:"break_start_at,omitempty"`
}

// TimeLogEntry is one immutable attendance log record. Entries are appended
// by the synchronizer and never mutated afterwards.
type TimeLogEntry struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Action               Action    `json:"action"`
	At                   time.Time `json:"at"`
	BreakDurationSeconds *int64    `json:"break_duration_seconds,omitempty"`
}

package models

import (
	"fmt"
	"time"
)

// TicketState is the normalized lifecycle state of a ticket
type TicketState string

const (
	StateNew        TicketState = "new"
	StateInProgress TicketState = "in_progress"
	StateOnHold     TicketState = "on_hold"
	StateResolved   TicketState = "resolved"
	StateClosed     TicketState = "closed"
	StateCancelled  TicketState = "cancelled"
)

// IsTerminal reports whether the state is one of the two terminal states.
// Terminal tickets get the long cache TTL and the lowest refresh priority.
func (s TicketState) IsTerminal() bool {
	return s == StateClosed || s == StateCancelled
}

// SLARecord is a task_sla sub-record attached to a ticket
type SLARecord struct {
	SysID        string     `bson:"sys_id" json:"sys_id"`
	Name         string     `bson:"name" json:"name"`
	Stage        string     `bson:"stage" json:"stage"`
	HasBreached  bool       `bson:"has_breached" json:"has_breached"`
	BusinessLeft string     `bson:"business_time_left,omitempty" json:"business_time_left,omitempty"`
	BreachAt     *time.Time `bson:"breach_at,omitempty" json:"breach_at,omitempty"`
}

// TicketNote is a journal entry (comment or work note) attached to a ticket
type TicketNote struct {
	SysID     string    `bson:"sys_id" json:"sys_id"`
	Element   string    `bson:"element" json:"element"`
	Value     string    `bson:"value" json:"value"`
	CreatedBy string    `bson:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Ticket is the normalized unit of work record tracked by the engine.
// The typed fields carry the invariants; everything else the upstream
// returns is preserved verbatim in Extra.
type Ticket struct {
	Table            string                 `bson:"table" json:"table"`
	SysID            string                 `bson:"sys_id" json:"sys_id"`
	Number           string                 `bson:"number" json:"number"`
	State            TicketState            `bson:"state" json:"state"`
	Priority         int                    `bson:"priority" json:"priority"`
	ShortDescription string                 `bson:"short_description" json:"short_description"`
	AssignmentGroup  string                 `bson:"assignment_group,omitempty" json:"assignment_group,omitempty"`
	OpenedAt         time.Time              `bson:"opened_at" json:"opened_at"`
	UpdatedAt        time.Time              `bson:"updated_at" json:"updated_at"`
	Extra            map[string]interface{} `bson:"extra,omitempty" json:"extra,omitempty"`
	SLAs             []SLARecord            `bson:"slas,omitempty" json:"slas,omitempty"`
	Notes            []TicketNote           `bson:"notes,omitempty" json:"notes,omitempty"`
}

// Key returns the globally unique identity of the ticket
func (t *Ticket) Key() string {
	return fmt.Sprintf("%s/%s", t.Table, t.SysID)
}

package models

import "time"

// ChangeAction is the kind of mutation a change event describes
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
)

// ChangeEvent is published to downstream consumers whenever the engine
// creates or updates a cached ticket. Delivery is fire-and-forget.
type ChangeEvent struct {
	Table     string       `json:"table"`
	Action    ChangeAction `json:"action"`
	SysID     string       `json:"sys_id"`
	Number    string       `json:"number"`
	State     TicketState  `json:"state"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   *Ticket      `json:"payload,omitempty"`
}

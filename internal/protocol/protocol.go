// Package protocol defines the JSON messages exchanged on the real-time
// collaboration channel.
package protocol

import (
	"encoding/json"
	"strings"
)

type Type string

// Outbound.
const (
	TypeJoin       Type = "reservation.join"
	TypeLeave      Type = "reservation.leave"
	TypeDraftStart Type = "draft.start"
	TypeDraftClear Type = "draft.clear"
)

// Inbound.
const (
	TypeChanged      Type = "reservation.changed"
	TypeJoined       Type = "reservation.joined"
	TypeLeft         Type = "reservation.left"
	TypeDraftStarted Type = "draft.started"
	TypeDraftEnded   Type = "draft.ended"
)

// Draft actions.
const (
	ActionStart = "start"
	ActionClear = "clear"
	ActionStop  = "stop"
	ActionEnd   = "end"
)

// Message is one channel frame.
type Message struct {
	Type          Type   `json:"type"`
	UserID        string `json:"user_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	// Event is the change name of reservation.changed ("created",
	// "updated", "deleted", or a dotted variant such as
	// "reservation.deleted").
	Event string `json:"event,omitempty"`
	Draft *Draft `json:"draft,omitempty"`
}

// Draft describes a not-yet-created reservation being composed.
type Draft struct {
	Action       string     `json:"action"`
	SlotKey      string     `json:"slot_key,omitempty"`
	InstructorID string     `json:"instructor_id,omitempty"`
	Start        string     `json:"start,omitempty"`
	TTLSeconds   int        `json:"ttl_seconds,omitempty"`
	Reservations []DraftRow `json:"reservations,omitempty"`
}

// DraftRow is one row of draft content.
type DraftRow struct {
	InstructorID string `json:"instructor_id"`
	Start        string `json:"start"`
	StudentID    string `json:"student_id,omitempty"`
	GroupID      string `json:"group_id,omitempty"`
}

// IsDelete reports whether a change event name denotes a deletion.
func IsDelete(event string) bool {
	e := strings.ToLower(event)
	if i := strings.LastIndexByte(e, '.'); i >= 0 {
		e = e[i+1:]
	}
	return e == "deleted" || e == "delete" || e == "removed"
}

// IsClear reports whether a draft action ends a user's draft.
func IsClear(action string) bool {
	switch strings.ToLower(action) {
	case ActionClear, ActionStop, ActionEnd:
		return true
	}
	return false
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RolePatient   Role = "patient"
	RoleAssistant Role = "assistant"
)

// ParseRole accepts the stored role names plus the legacy "bot" alias.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RolePatient):
		return RolePatient, nil
	case string(RoleAssistant), "bot":
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("domain: unknown role %q", s)
	}
}

// ChatRole maps a turn role to the role tag expected by chat completion APIs.
func (r Role) ChatRole() string {
	if r == RoleAssistant {
		return ChatRoleAssistant
	}
	return ChatRoleUser
}

// Conversation is a patient conversation and its intake state.
type Conversation struct {
	ID        string
	PatientID string
	Metadata  map[string]any
	Intake    IntakeState
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is a single persisted message. Seq is 1-based creation order.
type Turn struct {
	ConversationID string
	Seq            int
	Role           Role
	Text           string
	CreatedAt      time.Time
}

// NewTurn is a turn that has not been assigned a position yet.
type NewTurn struct {
	Role Role
	Text string
}

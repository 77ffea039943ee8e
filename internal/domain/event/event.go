// Package event carries the daemon's activity events: one record per
// policy decision, exec observation, or security warning.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates activity event kinds.
type Type string

const (
	// TypeAllowed records a permitted operation.
	TypeAllowed Type = "allowed"
	// TypeDenied records a blocked operation.
	TypeDenied Type = "denied"
	// TypeExecMonitored records an exec that ran under observation.
	TypeExecMonitored Type = "exec:monitored"
	// TypeExecDenied records a blocked exec.
	TypeExecDenied Type = "exec:denied"
	// TypeSecurityWarning records an anomaly such as rapid exec bursts.
	TypeSecurityWarning Type = "security:warning"
)

// Event is a single activity record. Timestamps are UTC RFC3339Nano on
// the wire.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation,omitempty"`
	Target    string    `json:"target,omitempty"`
	PolicyID  string    `json:"policyId,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	ProfileID string    `json:"profileId,omitempty"`
}

// New creates an event stamped with a fresh id and the current UTC time.
func New(t Type) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

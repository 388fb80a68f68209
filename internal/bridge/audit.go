package bridge

import (
	"context"
	"time"
)

// CommandStatus is the lifecycle state of an issued command.
type CommandStatus string

// Command lifecycle states. A command leaves pending exactly once.
const (
	CommandPending  CommandStatus = "pending"
	CommandSuccess  CommandStatus = "success"
	CommandError    CommandStatus = "error"
	CommandTimedOut CommandStatus = "timed_out"
	CommandFailed   CommandStatus = "failed"
)

// CommandRecord is the persisted audit entry for an issued command.
type CommandRecord struct {
	CorrelationID string         `json:"correlation_id"`
	DeviceID      string         `json:"device_id"`
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	Status        CommandStatus  `json:"status"`
	Message       string         `json:"message,omitempty"`
	IssuedAt      time.Time      `json:"issued_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// CommandAuditRepository persists the command audit trail.
//
// Implementations must be thread-safe. A nil repository disables
// auditing without changing dispatch behaviour.
type CommandAuditRepository interface {
	// Record inserts a new pending command entry.
	Record(ctx context.Context, record *CommandRecord) error

	// Complete marks a command finished with its final status.
	Complete(ctx context.Context, correlationID string, status CommandStatus, message string, at time.Time) error

	// Get returns the record for a correlation id, or ErrCommandNotFound.
	Get(ctx context.Context, correlationID string) (*CommandRecord, error)

	// ListByDevice returns recent commands for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error)
}

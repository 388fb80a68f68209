package bridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrMalformedPayload indicates a message body that could not be
	// decoded into the expected shape. The message is dropped.
	ErrMalformedPayload = errors.New("bridge: malformed payload")

	// ErrUnroutable indicates a topic that does not match the expected
	// namespace/devices/<id>/<channel> shape.
	ErrUnroutable = errors.New("bridge: unroutable topic")

	// ErrUnknownCorrelation indicates a response referencing a
	// correlation id with no pending command.
	ErrUnknownCorrelation = errors.New("bridge: unknown correlation id")

	// ErrCommandTimeout indicates a command that received no response
	// within its deadline.
	ErrCommandTimeout = errors.New("bridge: command timed out")

	// ErrRegistryContention indicates the device registry could not be
	// written because the underlying store is locked. This is fatal to
	// the ingest worker; supervision must restart it.
	ErrRegistryContention = errors.New("bridge: registry contention")

	// ErrInvalidCommand indicates a command request missing required fields.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrCommandNotFound indicates no audit record for a correlation id.
	ErrCommandNotFound = errors.New("bridge: command not found")

	// ErrNotConnected indicates the broker connection is down.
	ErrNotConnected = errors.New("bridge: not connected")
)

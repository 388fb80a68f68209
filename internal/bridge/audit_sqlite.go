package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// SQLiteCommandAuditRepository implements CommandAuditRepository using SQLite.
type SQLiteCommandAuditRepository struct {
	db *sql.DB
}

// NewSQLiteCommandAuditRepository creates a new SQLite command audit repository.
func NewSQLiteCommandAuditRepository(db *sql.DB) *SQLiteCommandAuditRepository {
	return &SQLiteCommandAuditRepository{db: db}
}

// Record inserts a new pending command entry.
func (r *SQLiteCommandAuditRepository) Record(ctx context.Context, record *CommandRecord) error {
	if record == nil || record.CorrelationID == "" {
		return fmt.Errorf("%w: correlation id is required", ErrInvalidCommand)
	}

	paramsJSON, err := json.Marshal(record.Params)
	if err != nil {
		return fmt.Errorf("marshalling params: %w", err)
	}

	if record.IssuedAt.IsZero() {
		record.IssuedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = CommandPending
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (correlation_id, device_id, action, params, status, message, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.CorrelationID,
		record.DeviceID,
		record.Action,
		string(paramsJSON),
		string(record.Status),
		record.Message,
		record.IssuedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command record: %w", err)
	}

	return nil
}

// Complete marks a command finished with its final status.
func (r *SQLiteCommandAuditRepository) Complete(ctx context.Context, correlationID string, status CommandStatus, message string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE commands
		 SET status = ?, message = ?, completed_at = ?
		 WHERE correlation_id = ? AND status = 'pending'`,
		string(status),
		message,
		at.UTC().Format(time.RFC3339),
		correlationID,
	)
	if err != nil {
		return fmt.Errorf("completing command record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCorrelation, correlationID)
	}

	return nil
}

// ListByDevice returns recent commands for a device, ordered newest first.
func (r *SQLiteCommandAuditRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]CommandRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidCommand)
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT correlation_id, device_id, action, params, status, message, issued_at, completed_at
		 FROM commands
		 WHERE device_id = ?
		 ORDER BY issued_at DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		record, err := scanCommandRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}

	return records, nil
}

// Get returns the audit record for a correlation id.
func (r *SQLiteCommandAuditRepository) Get(ctx context.Context, correlationID string) (*CommandRecord, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrInvalidCommand)
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT correlation_id, device_id, action, params, status, message, issued_at, completed_at
		 FROM commands
		 WHERE correlation_id = ?`,
		correlationID,
	)

	record, err := scanCommandRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, correlationID)
	}
	return record, err
}

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommandRecord(row rowScanner) (*CommandRecord, error) {
	var record CommandRecord
	var paramsJSON, status, issuedAt string
	var message, completedAt sql.NullString

	if err := row.Scan(&record.CorrelationID, &record.DeviceID, &record.Action,
		&paramsJSON, &status, &message, &issuedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning command record: %w", err)
	}

	record.Status = CommandStatus(status)
	if message.Valid {
		record.Message = message.String
	}

	if paramsJSON != "" && paramsJSON != "null" {
		if err := json.Unmarshal([]byte(paramsJSON), &record.Params); err != nil {
			return nil, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	var err error
	record.IssuedAt, err = time.Parse(time.RFC3339, issuedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing issued_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		record.CompletedAt = &t
	}

	return &record, nil
}

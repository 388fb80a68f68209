package bridge

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupAuditDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE commands (
			correlation_id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			action TEXT NOT NULL,
			params TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'pending',
			message TEXT,
			issued_at TEXT NOT NULL,
			completed_at TEXT
		) STRICT;
		CREATE INDEX idx_commands_device ON commands(device_id, issued_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteCommandAuditRepository(t *testing.T) {
	db := setupAuditDB(t)
	repo := NewSQLiteCommandAuditRepository(db)
	ctx := context.Background()

	record := &CommandRecord{
		CorrelationID: "corr-1",
		DeviceID:      "esp32-1",
		Action:        "turn_on",
		Params:        map[string]any{"level": 80},
		IssuedAt:      time.Now().UTC().Truncate(time.Second),
	}

	t.Run("record and list", func(t *testing.T) {
		if err := repo.Record(ctx, record); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		got, err := repo.ListByDevice(ctx, "esp32-1", 10)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		if got[0].Status != CommandPending {
			t.Errorf("Status = %q, want pending", got[0].Status)
		}
		if got[0].Params["level"] != float64(80) {
			t.Errorf("Params[level] = %v, want 80", got[0].Params["level"])
		}
	})

	t.Run("complete", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		if err := repo.Complete(ctx, "corr-1", CommandSuccess, "ok", at); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		got, _ := repo.ListByDevice(ctx, "esp32-1", 10)
		if got[0].Status != CommandSuccess || got[0].Message != "ok" {
			t.Errorf("record = %+v, want success/ok", got[0])
		}
		if got[0].CompletedAt == nil || !got[0].CompletedAt.Equal(at) {
			t.Errorf("CompletedAt = %v, want %v", got[0].CompletedAt, at)
		}
	})

	t.Run("complete is not repeatable", func(t *testing.T) {
		err := repo.Complete(ctx, "corr-1", CommandError, "late", time.Now())
		if !errors.Is(err, ErrUnknownCorrelation) {
			t.Errorf("second Complete() error = %v, want ErrUnknownCorrelation", err)
		}

		got, _ := repo.ListByDevice(ctx, "esp32-1", 10)
		if got[0].Status != CommandSuccess {
			t.Errorf("Status = %q, terminal state must not change", got[0].Status)
		}
	})

	t.Run("complete unknown correlation", func(t *testing.T) {
		err := repo.Complete(ctx, "ghost", CommandSuccess, "", time.Now())
		if !errors.Is(err, ErrUnknownCorrelation) {
			t.Errorf("Complete() error = %v, want ErrUnknownCorrelation", err)
		}
	})

	t.Run("list validates device id", func(t *testing.T) {
		if _, err := repo.ListByDevice(ctx, "", 10); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("ListByDevice() error = %v, want ErrInvalidCommand", err)
		}
	})

	t.Run("get by correlation id", func(t *testing.T) {
		got, err := repo.Get(ctx, "corr-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.DeviceID != "esp32-1" || got.Status != CommandSuccess {
			t.Errorf("record = %+v, want esp32-1/success", got)
		}
	})

	t.Run("get unknown correlation", func(t *testing.T) {
		if _, err := repo.Get(ctx, "ghost"); !errors.Is(err, ErrCommandNotFound) {
			t.Errorf("Get() error = %v, want ErrCommandNotFound", err)
		}
	})

	t.Run("get validates correlation id", func(t *testing.T) {
		if _, err := repo.Get(ctx, ""); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Get() error = %v, want ErrInvalidCommand", err)
		}
	})
}

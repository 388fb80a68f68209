package ota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite firmware repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Publish registers a firmware image.
func (r *SQLiteRepository) Publish(ctx context.Context, firmware *Firmware) error {
	if firmware.ReleasedAt.IsZero() {
		firmware.ReleasedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO firmware (device_type, version, url, checksum, released_at)
		 VALUES (?, ?, ?, ?, ?)`,
		firmware.DeviceType,
		firmware.Version,
		firmware.URL,
		firmware.Checksum,
		firmware.ReleasedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting firmware: %w", err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		firmware.ID = id
	}

	return nil
}

// Latest returns the highest published version for a device type.
//
// Version ordering is semantic, not lexical, so the comparison happens
// here rather than in SQL.
func (r *SQLiteRepository) Latest(ctx context.Context, deviceType string) (*Firmware, error) {
	all, err := r.List(ctx, deviceType)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFirmware, deviceType)
	}

	latest := &all[0]
	latestVersion, err := semver.NewVersion(latest.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, latest.Version, err)
	}

	for i := 1; i < len(all); i++ {
		candidate, err := semver.NewVersion(all[i].Version)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, all[i].Version, err)
		}
		if candidate.GreaterThan(latestVersion) {
			latest = &all[i]
			latestVersion = candidate
		}
	}

	return latest, nil
}

// List returns all firmware for a device type, newest release first.
func (r *SQLiteRepository) List(ctx context.Context, deviceType string) ([]Firmware, error) {
	if deviceType == "" {
		return nil, fmt.Errorf("%w: device type is required", ErrInvalidFirmware)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_type, version, url, checksum, released_at
		 FROM firmware
		 WHERE device_type = ?
		 ORDER BY released_at DESC, id DESC`,
		deviceType,
	)
	if err != nil {
		return nil, fmt.Errorf("querying firmware: %w", err)
	}
	defer rows.Close()

	var firmwares []Firmware
	for rows.Next() {
		var fw Firmware
		var checksum sql.NullString
		var releasedAt string

		if err := rows.Scan(&fw.ID, &fw.DeviceType, &fw.Version, &fw.URL, &checksum, &releasedAt); err != nil {
			return nil, fmt.Errorf("scanning firmware: %w", err)
		}
		if checksum.Valid {
			fw.Checksum = checksum.String
		}
		fw.ReleasedAt, err = time.Parse(time.RFC3339, releasedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing released_at: %w", err)
		}

		firmwares = append(firmwares, fw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating firmware: %w", err)
	}

	return firmwares, nil
}

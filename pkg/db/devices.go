package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urmzd/ecovent/pkg/device"
)

// Registrations returns the fan registrations of the active profile.
func (db *DB) Registrations() device.RegistrationStore {
	return &registrationStore{db: db}
}

type registrationStore struct {
	db *DB
}

func (s *registrationStore) ListRegistrations(ctx context.Context) ([]device.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, port, password, hardware_id, poll_interval_ms, created_at
		FROM devices
		WHERE profile_id = (SELECT id FROM profiles WHERE is_active = 1 LIMIT 1)
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var regs []device.Registration
	for rows.Next() {
		var r device.Registration
		var pollMs int64
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Address, &r.Port, &r.Password, &r.HardwareID, &pollMs, &createdAt); err != nil {
			return nil, err
		}
		r.PollInterval = time.Duration(pollMs) * time.Millisecond
		r.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (s *registrationStore) CreateRegistration(ctx context.Context, reg *device.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	createdAt := reg.CreatedAt.UTC().Format(time.DateTime)

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		var profileID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM profiles WHERE is_active = 1 LIMIT 1`).Scan(&profileID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoActiveProfile
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO devices (id, profile_id, name, address, port, password, hardware_id, poll_interval_ms, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, reg.ID, profileID, reg.Name, reg.Address, reg.Port, reg.Password, reg.HardwareID,
			reg.PollInterval.Milliseconds(), createdAt, createdAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", device.ErrAlreadyExists, reg.ID)
			}
			return fmt.Errorf("failed to create registration: %w", err)
		}
		return nil
	})
}

func (s *registrationStore) RenameRegistration(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE devices SET name = ?, updated_at = datetime('now')
		WHERE id = ?
	`, name, id)
	return affectedOne(result, err)
}

func (s *registrationStore) DeleteRegistration(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	return affectedOne(result, err)
}

func affectedOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return device.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

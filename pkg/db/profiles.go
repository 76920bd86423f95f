package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrProfileNotFound = errors.New("profile not found")

// Profile holds per-site settings shared by every fan in it.
type Profile struct {
	ID           int64
	Name         string
	SearchTarget string
	PollInterval time.Duration
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProfileStore provides profile operations.
type ProfileStore interface {
	GetActive(ctx context.Context) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
}

// Profiles returns a ProfileStore for this database.
func (db *DB) Profiles() ProfileStore {
	return &profileStore{db: db}
}

type profileStore struct {
	db *DB
}

func (s *profileStore) GetActive(ctx context.Context) (*Profile, error) {
	p := &Profile{}
	var pollMs int64
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, search_target, poll_interval_ms, is_active, created_at, updated_at
		FROM profiles WHERE is_active = 1 LIMIT 1
	`).Scan(&p.ID, &p.Name, &p.SearchTarget, &pollMs, &p.IsActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p.PollInterval = time.Duration(pollMs) * time.Millisecond
	p.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	p.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return p, nil
}

func (s *profileStore) Update(ctx context.Context, p *Profile) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET name = ?, search_target = ?, poll_interval_ms = ?, updated_at = datetime('now')
		WHERE id = ?
	`, p.Name, p.SearchTarget, p.PollInterval.Milliseconds(), p.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

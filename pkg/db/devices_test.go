package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/urmzd/ecovent/pkg/device"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = sqlDB.Close()
	})
	return &DB{DB: sqlDB}, mock
}

func TestCreateRegistration_NoActiveProfile(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := d.Registrations().CreateRegistration(context.Background(), &device.Registration{ID: "fan"})
	if !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("err = %v, want ErrNoActiveProfile", err)
	}
}

func TestCreateRegistration_UniqueViolation(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO devices").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: devices.id (1555)"))
	mock.ExpectRollback()

	err := d.Registrations().CreateRegistration(context.Background(), &device.Registration{ID: "fan"})
	if !errors.Is(err, device.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateRegistration_OtherErrorsPassThrough(t *testing.T) {
	d, mock := newMockDB(t)
	boom := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM profiles").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO devices").WillReturnError(boom)
	mock.ExpectRollback()

	err := d.Registrations().CreateRegistration(context.Background(), &device.Registration{ID: "fan"})
	if !errors.Is(err, boom) || errors.Is(err, device.ErrAlreadyExists) {
		t.Errorf("err = %v", err)
	}
}

func TestRenameRegistration_NotFound(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectExec("UPDATE devices SET name").
		WithArgs("Office", "fan").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := d.Registrations().RenameRegistration(context.Background(), "fan", "Office")
	if !errors.Is(err, device.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListRegistrations_QueryError(t *testing.T) {
	d, mock := newMockDB(t)
	boom := errors.New("database is locked")
	mock.ExpectQuery("SELECT id, name, address").WillReturnError(boom)

	if _, err := d.Registrations().ListRegistrations(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestMigrate_VersionQueryError(t *testing.T) {
	d, mock := newMockDB(t)
	boom := errors.New("file is not a database")
	mock.ExpectQuery("SELECT COUNT").WillReturnError(boom)

	if err := d.Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestActiveConfig_NoProfile(t *testing.T) {
	d, mock := newMockDB(t)
	mock.ExpectQuery("FROM profiles WHERE is_active").WillReturnRows(sqlmock.NewRows(
		[]string{"id", "name", "search_target", "poll_interval_ms", "is_active", "created_at", "updated_at"}))

	if _, err := d.ActiveConfig(context.Background()); !errors.Is(err, ErrNoActiveProfile) {
		t.Errorf("err = %v, want ErrNoActiveProfile", err)
	}
}

package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/urmzd/ecovent/pkg/device"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "ecovent.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := d.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return d
}

func TestOpen_Pragmas(t *testing.T) {
	d := openTestDB(t)

	var mode string
	if err := d.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}
	var timeout, fk int
	if err := d.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil || timeout != int(BusyTimeout.Milliseconds()) {
		t.Errorf("busy_timeout = %d, %v", timeout, err)
	}
	if err := d.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Errorf("foreign_keys = %d, %v", fk, err)
	}
}

func TestOpen_DefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	d, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()
	if want := filepath.Join(home, ".config", "ecovent", "ecovent.db"); d.Path() != want {
		t.Errorf("Path() = %q, want %q", d.Path(), want)
	}
}

func TestRegistrations_ConcurrentWriters(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg := device.Registration{
				ID:      fmt.Sprintf("fan%d", i),
				Name:    fmt.Sprintf("Fan %d", i),
				Address: fmt.Sprintf("192.168.50.%d", 10+i),
				Port:    4000,
			}
			if err := d.Registrations().CreateRegistration(ctx, &reg); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("CreateRegistration: %v", err)
	}

	regs, err := d.Registrations().ListRegistrations(ctx)
	if err != nil || len(regs) != 8 {
		t.Errorf("ListRegistrations = %d, %v", len(regs), err)
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	v, err := d.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != CurrentSchemaVersion {
		t.Errorf("version = %d, want %d", v, CurrentSchemaVersion)
	}
}

func TestBootstrap_CreatesDefaults(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	if err := d.Bootstrap(ctx); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	needed, err := d.NeedsBootstrap(ctx)
	if err != nil || needed {
		t.Fatalf("NeedsBootstrap = %v, %v", needed, err)
	}

	cfg, err := d.ActiveConfig(ctx)
	if err != nil {
		t.Fatalf("ActiveConfig: %v", err)
	}
	if cfg.APIAddress() != "0.0.0.0:8080" {
		t.Errorf("APIAddress = %q", cfg.APIAddress())
	}
	if cfg.SearchTarget() != "255.255.255.255" || cfg.PollInterval() != time.Minute {
		t.Errorf("search=%q poll=%v", cfg.SearchTarget(), cfg.PollInterval())
	}
}

func TestProfiles_Update(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	p, err := d.Profiles().GetActive(ctx)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	p.SearchTarget = "192.168.50.255"
	p.PollInterval = 30 * time.Second
	if err := d.Profiles().Update(ctx, p); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cfg, err := d.ActiveConfig(ctx)
	if err != nil {
		t.Fatalf("ActiveConfig: %v", err)
	}
	if cfg.SearchTarget() != "192.168.50.255" || cfg.PollInterval() != 30*time.Second {
		t.Errorf("search=%q poll=%v", cfg.SearchTarget(), cfg.PollInterval())
	}

	p.ID = 999
	if err := d.Profiles().Update(ctx, p); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Update unknown = %v, want ErrProfileNotFound", err)
	}
}

func TestRegistrations_Lifecycle(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	store := d.Registrations()

	reg := device.Registration{
		ID:           "0123456789abcdef",
		Name:         "Bedroom",
		Address:      "192.168.50.80",
		Port:         4000,
		Password:     "1111",
		HardwareID:   "0123456789ABCDEF",
		PollInterval: 45 * time.Second,
	}
	if err := store.CreateRegistration(ctx, &reg); err != nil {
		t.Fatalf("CreateRegistration: %v", err)
	}
	if reg.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	dupID := reg
	dupID.Address = "192.168.50.81"
	if err := store.CreateRegistration(ctx, &dupID); !errors.Is(err, device.ErrAlreadyExists) {
		t.Errorf("duplicate id = %v, want ErrAlreadyExists", err)
	}
	dupAddr := reg
	dupAddr.ID = "other"
	if err := store.CreateRegistration(ctx, &dupAddr); !errors.Is(err, device.ErrAlreadyExists) {
		t.Errorf("duplicate address = %v, want ErrAlreadyExists", err)
	}

	if err := store.RenameRegistration(ctx, reg.ID, "Office"); err != nil {
		t.Fatalf("RenameRegistration: %v", err)
	}

	regs, err := store.ListRegistrations(ctx)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("registrations = %+v", regs)
	}
	got := regs[0]
	if got.Name != "Office" || got.Address != reg.Address || got.Port != 4000 || got.Password != "1111" ||
		got.HardwareID != reg.HardwareID || got.PollInterval != 45*time.Second {
		t.Errorf("registration = %+v", got)
	}
	if !got.CreatedAt.Equal(reg.CreatedAt.UTC().Truncate(time.Second)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, reg.CreatedAt)
	}

	if err := store.DeleteRegistration(ctx, reg.ID); err != nil {
		t.Fatalf("DeleteRegistration: %v", err)
	}
	if err := store.DeleteRegistration(ctx, reg.ID); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if err := store.RenameRegistration(ctx, reg.ID, "x"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("rename deleted = %v, want ErrNotFound", err)
	}
}

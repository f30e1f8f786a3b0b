package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "switchboard"},
			want: "root@tcp(127.0.0.1:3306)/switchboard?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, User: "desk", Password: "pw", Name: "support"},
			want: "desk:pw@tcp(10.0.0.5:3307)/support?parseTime=true",
		},
		{
			name: "server level",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3306, User: "root"},
			want: "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/tmp/desk.db")
	if !strings.HasPrefix(dsn, "/tmp/desk.db?") {
		t.Errorf("SQLiteDSN = %q, want path prefix", dsn)
	}
	if !strings.Contains(dsn, "_busy_timeout=") {
		t.Errorf("SQLiteDSN = %q, want busy timeout", dsn)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %q", err)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 3 {
		t.Errorf("AllModels() returned %d models, want 3", got)
	}
}

func TestConnect_SQLiteAutoMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.db")
	gormDB, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gormDB.Migrator().HasTable(m) {
			t.Errorf("table for %T missing after migrate", m)
		}
	}

	// Idempotent.
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
}

func TestReset_DropsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "switchboard.db")
	gormDB, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := gormDB.Create(&models.Ticket{ClientName: "Ana", State: models.StateQueued}).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	if err := Reset(gormDB); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var count int64
	gormDB.Model(&models.Ticket{}).Count(&count)
	if count != 0 {
		t.Errorf("ticket count after reset = %d, want 0", count)
	}
}

package config

import (
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/club-engine/models"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/club?sslmode=disable")
	t.Setenv("JWT_SECRET_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.ServerPort)
	}
	if cfg.StorageDriver != StorageDriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.StorageDriver)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("expected info level, got %v", cfg.LogLevel)
	}
	if cfg.StandingsCacheTTL != 5*time.Minute {
		t.Fatalf("expected 5m cache ttl, got %s", cfg.StandingsCacheTTL)
	}
	if cfg.RSVPMaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.RSVPMaxRetries)
	}
	if !reflect.DeepEqual(cfg.PointsTable, models.DefaultPointsTable()) {
		t.Fatalf("expected default points table, got %v", cfg.PointsTable)
	}
	if cfg.R2Enabled() {
		t.Fatal("expected R2 disabled without credentials")
	}
	if cfg.CheckInQRSecret != "secret" {
		t.Fatalf("expected qr secret to fall back to jwt secret, got %q", cfg.CheckInQRSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POINTS_TABLE", "1:10, 2:5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.ServerPort)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if want := (models.PointsTable{1: 10, 2: 5}); !reflect.DeepEqual(cfg.PointsTable, want) {
		t.Fatalf("expected %v, got %v", want, cfg.PointsTable)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadMemoryDriverWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("STORAGE_DRIVER", "memory")

	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}, wantErr: "DATABASE_URL"},
		{name: "missing jwt", env: map[string]string{"JWT_SECRET_KEY": ""}, wantErr: "JWT_SECRET_KEY"},
		{name: "bad port", env: map[string]string{"SERVER_PORT": "70000"}, wantErr: "SERVER_PORT"},
		{name: "bad driver", env: map[string]string{"STORAGE_DRIVER": "mongo"}, wantErr: "STORAGE_DRIVER"},
		{name: "bad points", env: map[string]string{"POINTS_TABLE": "1=25"}, wantErr: "parse env"},
		{name: "partial r2", env: map[string]string{"R2_ACCOUNT_ID": "acc"}, wantErr: "R2_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in error, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParsePointsTable(t *testing.T) {
	tests := []struct {
		raw     string
		want    models.PointsTable
		wantErr bool
	}{
		{raw: "1:25,2:18,3:15", want: models.PointsTable{1: 25, 2: 18, 3: 15}},
		{raw: " 1 : 3 ,", want: models.PointsTable{1: 3}},
		{raw: "", wantErr: true},
		{raw: "0:10", wantErr: true},
		{raw: "1:-1", wantErr: true},
		{raw: "1:2,1:3", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePointsTable(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error %v", tt.raw, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%q: expected %v, got %v", tt.raw, tt.want, got)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the loader at a missing .env so a developer's local file
// cannot leak into the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SANCTUARY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	isolate(t)
	t.Setenv("SANCTUARY_DB_BACKEND", "postgres")
	t.Setenv("SANCTUARY_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("SANCTUARY_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("SANCTUARY_ENV", "development")
	t.Setenv("SANCTUARY_TICK_INTERVAL_MS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" || cfg.DBBackend != DatabasePostgres {
		t.Fatalf("unexpected database config: %s %q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Fatalf("unexpected tick interval: %v", cfg.TickInterval)
	}
}

func TestLoadDefaultsToSQLiteInDataDir(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("SANCTUARY_DATA_DIR", dir)
	t.Setenv("SANCTUARY_JWT_SIGNING_KEY", "supersecret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite || cfg.DBDSN != filepath.Join(dir, "sanctuary.db") {
		t.Fatalf("unexpected database config: %s %q", cfg.DBBackend, cfg.DBDSN)
	}
	if cfg.LockPath() != filepath.Join(dir, "sanctuary.lock") {
		t.Fatalf("unexpected lock path %q", cfg.LockPath())
	}
	if cfg.EventBus != EventBusMemory {
		t.Fatalf("unexpected event bus %q", cfg.EventBus)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"missing jwt key":  {"SANCTUARY_JWT_SIGNING_KEY": ""},
		"unknown backend":  {"SANCTUARY_DB_BACKEND": "oracle"},
		"postgres no dsn":  {"SANCTUARY_DB_BACKEND": "postgres"},
		"unknown bus":      {"SANCTUARY_EVENT_BUS": "kafka"},
		"nats without url": {"SANCTUARY_EVENT_BUS": "nats"},
		"short prod key":   {"SANCTUARY_ENV": "production"},
		"zero tick":        {"SANCTUARY_TICK_INTERVAL_MS": "0"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			t.Setenv("SANCTUARY_DATA_DIR", t.TempDir())
			t.Setenv("SANCTUARY_JWT_SIGNING_KEY", "supersecret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sanctuary.env")
	content := "SANCTUARY_JWT_SIGNING_KEY=from-file\nSANCTUARY_HTTP_PORT=9191\nSANCTUARY_ENV=staging\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("SANCTUARY_ENV_FILE", path)
	t.Setenv("SANCTUARY_DATA_DIR", t.TempDir())
	t.Setenv("SANCTUARY_ENV", "testing")

	// Register restores for the keys the file sets, then clear them.
	for _, key := range []string{"SANCTUARY_JWT_SIGNING_KEY", "SANCTUARY_HTTP_PORT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JWTSigningKey != "from-file" || cfg.HTTPPort != 9191 {
		t.Fatalf("env file not applied: key=%q port=%d", cfg.JWTSigningKey, cfg.HTTPPort)
	}
	if cfg.Environment != "testing" {
		t.Fatalf("env file overrode the environment: %q", cfg.Environment)
	}
}

package db

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/sanctuary/internal/config"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/telemetry"
)

func TestConnectSQLiteCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := &config.Config{
		DBBackend: config.DatabaseSQLite,
		DBDSN:     filepath.Join(dir, "sanctuary.db"),
	}

	database, err := Connect(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.ContentItem{}) || !database.Migrator().HasTable(&models.ScheduledItem{}) {
		t.Fatal("expected content and schedule tables")
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestMigrateCompactsSchedulePositions(t *testing.T) {
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rows := []models.ScheduledItem{
		{ID: "s1", ContentID: "c1", Order: 3},
		{ID: "s2", ContentID: "c2", Order: 7},
		{ID: "s3", ContentID: "c3", Order: 0},
	}
	if err := database.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var got []models.ScheduledItem
	database.Order("position ASC").Find(&got)
	want := []string{"s3", "s1", "s2"}
	for i, item := range got {
		if item.ID != want[i] || item.Order != i {
			t.Fatalf("position %d: got %s/%d, want %s/%d", i, item.ID, item.Order, want[i], i)
		}
	}
}

// stepClock advances by step on every reading, so each statement appears to
// take exactly step.
type stepClock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(c.step)
	return c.at
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func observedDB(t *testing.T, slow, step time.Duration) (*gorm.DB, *bytes.Buffer) {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var buf bytes.Buffer
	clk := &stepClock{at: time.Date(2026, 6, 7, 10, 0, 0, 0, time.UTC), step: step}
	o := &statementObserver{slow: slow, logger: zerolog.New(&buf), now: clk.now}
	if err := o.register(database); err != nil {
		t.Fatalf("register callbacks: %v", err)
	}
	return database, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode log line %q: %v", raw, err)
		}
		lines = append(lines, line)
	}
	return lines
}

func TestCallbacksLogSlowStatementsByTable(t *testing.T) {
	database, buf := observedDB(t, 50*time.Millisecond, 80*time.Millisecond)

	item := models.ContentItem{ID: "c1", Type: models.ContentBlank, Title: "Break"}
	if err := database.Create(&item).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	lines := logLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %s", len(lines), buf.String())
	}
	line := lines[0]
	if line["message"] != "slow database statement" || line["operation"] != "create" || line["table"] != "content_items" {
		t.Fatalf("unexpected log line %v", line)
	}
	if line["rows"] != float64(1) {
		t.Fatalf("rows = %v, want 1", line["rows"])
	}
}

func TestCallbacksSkipFastStatementsAndMissingRows(t *testing.T) {
	database, buf := observedDB(t, time.Second, time.Millisecond)
	before := counterValue(t, telemetry.DatabaseErrorsTotal.WithLabelValues("query", "scheduled_items"))

	var entry models.ScheduledItem
	if err := database.First(&entry, "id = ?", "missing").Error; err == nil {
		t.Fatal("expected record not found")
	}

	if buf.Len() != 0 {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
	if after := counterValue(t, telemetry.DatabaseErrorsTotal.WithLabelValues("query", "scheduled_items")); after != before {
		t.Fatalf("not-found lookup counted as an error: %v -> %v", before, after)
	}
}

func TestCallbacksCountFailuresUnderOtherTable(t *testing.T) {
	database, buf := observedDB(t, time.Second, time.Millisecond)
	before := counterValue(t, telemetry.DatabaseErrorsTotal.WithLabelValues("raw", "other"))

	if err := database.Exec("DELETE FROM no_such_table").Error; err == nil {
		t.Fatal("expected an error from a missing table")
	}

	if after := counterValue(t, telemetry.DatabaseErrorsTotal.WithLabelValues("raw", "other")); after != before+1 {
		t.Fatalf("errors counter = %v, want %v", after, before+1)
	}
	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["message"] != "database statement failed" || lines[0]["table"] != "other" {
		t.Fatalf("unexpected log output: %s", buf.String())
	}
}

func TestTableLabelIsBounded(t *testing.T) {
	for table, want := range map[string]string{
		"content_items":   "content_items",
		"scheduled_items": "scheduled_items",
		"sqlite_master":   "other",
		"":                "other",
	} {
		if got := tableLabel(table); got != want {
			t.Errorf("tableLabel(%q) = %q, want %q", table, got, want)
		}
	}
}

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/sanctuary/internal/models"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"#", "Title", "ID"}, [][]string{{"1", "Amazing Grace"}}, []columnAlignment{alignRight})
	if !strings.Contains(out, "Amazing Grace") || !strings.Contains(out, "TITLE") {
		t.Fatalf("unexpected table:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(0); got != "-" {
		t.Fatalf("formatSeconds(0)=%q", got)
	}
	if got := formatSeconds(90); got != "1m30s" {
		t.Fatalf("formatSeconds(90)=%q", got)
	}
	if got := formatScheduledFor(models.ScheduledItem{}); got != "-" {
		t.Fatalf("formatScheduledFor=%q", got)
	}
	at := time.Date(2026, 3, 1, 10, 30, 0, 0, time.Local)
	if got := formatScheduledFor(models.ScheduledItem{ScheduledFor: &at}); got != "Sun 10:30" {
		t.Fatalf("formatScheduledFor=%q", got)
	}
}

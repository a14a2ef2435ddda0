package monitor

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolveRangeDefaultsToMaxDaysWindow(t *testing.T) {
	req := httptest.NewRequest("GET", "/schemas?maxDays=7", nil)
	start, end, err := resolveRange(req)
	if err != nil {
		t.Fatalf("resolveRange: %s", err)
	}
	if got := end.Sub(start); got != 6*24*time.Hour {
		t.Fatalf("window = %s, want 6 days (7-day inclusive range)", got)
	}
}

func TestResolveRangeExplicitDates(t *testing.T) {
	req := httptest.NewRequest("GET", "/schemas?dateStart=2026-01-01&dateEnd=2026-01-10", nil)
	start, end, err := resolveRange(req)
	if err != nil {
		t.Fatalf("resolveRange: %s", err)
	}
	if start.Format(dateLayout) != "2026-01-01" || end.Format(dateLayout) != "2026-01-10" {
		t.Fatalf("range = %s..%s, want 2026-01-01..2026-01-10", start.Format(dateLayout), end.Format(dateLayout))
	}
}

func TestResolveRangeInvalidMaxDays(t *testing.T) {
	req := httptest.NewRequest("GET", "/schemas?maxDays=not-a-number", nil)
	if _, _, err := resolveRange(req); err == nil {
		t.Fatal("resolveRange should reject a non-numeric maxDays")
	}
}

func TestResolveRangeDefaultWindow(t *testing.T) {
	req := httptest.NewRequest("GET", "/schemas", nil)
	start, end, err := resolveRange(req)
	if err != nil {
		t.Fatalf("resolveRange: %s", err)
	}
	if got := end.Sub(start); got != (DefaultMaxDays-1)*24*time.Hour {
		t.Fatalf("window = %s, want %d days (%d-day inclusive range)", got, DefaultMaxDays-1, DefaultMaxDays)
	}
}

package markethours

import (
	"strings"
	"testing"
	"time"

	"rwa-trader/internal/config"
)

func newCalendar(t *testing.T, holidays ...string) *Calendar {
	t.Helper()
	cal, err := New(config.MarketHoursConfig{Open: "14:30", Close: "21:00", Timezone: "UTC", Holidays: holidays})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return cal
}

func TestCalendar_WeekdaySession(t *testing.T) {
	cal := newCalendar(t)
	// 2025-03-03 为周一
	cases := []struct {
		at   time.Time
		open bool
	}{
		{time.Date(2025, 3, 3, 14, 29, 59, 0, time.UTC), false},
		{time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC), true},
		{time.Date(2025, 3, 3, 20, 59, 59, 0, time.UTC), true},
		{time.Date(2025, 3, 3, 21, 0, 0, 0, time.UTC), false},
		{time.Date(2025, 3, 8, 15, 0, 0, 0, time.UTC), false}, // 周六
		{time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC), false}, // 周日
	}
	for _, tc := range cases {
		if got := cal.IsOpen(tc.at); got != tc.open {
			t.Errorf("IsOpen(%s) = %v, want %v", tc.at, got, tc.open)
		}
	}
}

func TestCalendar_Holiday(t *testing.T) {
	cal := newCalendar(t, "2025-07-04")
	if cal.IsOpen(time.Date(2025, 7, 4, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("holiday should be closed")
	}
	next := cal.NextOpen(time.Date(2025, 7, 4, 16, 0, 0, 0, time.UTC))
	want := time.Date(2025, 7, 7, 14, 30, 0, 0, time.UTC) // 周五休市后下一个周一
	if !next.Equal(want) {
		t.Fatalf("NextOpen = %s, want %s", next, want)
	}
}

func TestCalendar_StatusMessage(t *testing.T) {
	cal := newCalendar(t)
	cal.now = func() time.Time { return time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC) }
	open, msg := cal.Status()
	if open {
		t.Fatalf("expected closed after session end")
	}
	if !strings.Contains(msg, "2025-03-04T14:30:00Z") {
		t.Fatalf("message should mention next open, got %q", msg)
	}
}

func TestNew_RejectsInvertedSession(t *testing.T) {
	if _, err := New(config.MarketHoursConfig{Open: "21:00", Close: "14:30"}); err == nil {
		t.Fatalf("expected error for close before open")
	}
	if _, err := New(config.MarketHoursConfig{Open: "9am", Close: "17:00"}); err == nil {
		t.Fatalf("expected error for malformed clock")
	}
}

package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	result := RealClock{}.Now()
	after := time.Now()

	if result.Before(before) || result.After(after) {
		t.Errorf("Now() returned %v, expected between %v and %v", result, before, after)
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	mock := NewMockClock(start)

	mock.Advance(time.Hour)
	if got := mock.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Errorf("after Advance, Now() = %v", got)
	}

	later := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.Set(later)
	if got := mock.Now(); !got.Equal(later) {
		t.Errorf("after Set, Now() = %v", got)
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(RealClock); !ok {
		t.Error("OrReal(nil) should return RealClock")
	}
	mock := NewMockClock(time.Time{})
	if OrReal(mock) != Clock(mock) {
		t.Error("OrReal should keep a non-nil clock")
	}
}

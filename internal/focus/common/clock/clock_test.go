package clock

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Fatalf("RealClock.Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &MockClock{CurrentTime: start}
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(2 * time.Second)
	if want := start.Add(2 * time.Second); !c.Now().Equal(want) {
		t.Fatalf("Now() after advance = %v, want %v", c.Now(), want)
	}
}

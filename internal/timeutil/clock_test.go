package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Advance(1500 * time.Millisecond)
	if got := clock.Since(start); got != 1500*time.Millisecond {
		t.Errorf("Since() = %v, want 1.5s", got)
	}
}

func TestMockTicker_FiresOnlyWhenDue(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(time.Unix(0, int64(100*time.Millisecond))) {
			t.Errorf("tick time = %v", got)
		}
	default:
		t.Fatal("ticker did not fire when due")
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

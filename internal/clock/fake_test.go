package clock

import (
	"testing"
	"time"
)

func TestFakeClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2025, 11, 28, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	ticker := c.NewTicker(10 * time.Second)
	defer ticker.Stop()

	c.Advance(9 * time.Second)
	select {
	case <-ticker.C:
		t.Fatalf("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(1 * time.Second)
	select {
	case got := <-ticker.C:
		want := start.Add(10 * time.Second)
		if !got.Equal(want) {
			t.Fatalf("unexpected tick time: got=%s want=%s", got, want)
		}
	default:
		t.Fatalf("ticker should fire after its interval")
	}

	if now := c.Now(); !now.Equal(start.Add(10 * time.Second)) {
		t.Fatalf("unexpected Now: got=%s", now)
	}
}

func TestFakeClock_StoppedTickerIsSilent(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatalf("stopped ticker should not fire")
	default:
	}
}

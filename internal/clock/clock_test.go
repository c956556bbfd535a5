package clock

import (
	"testing"
	"time"
)

func TestSystemClock(t *testing.T) {
	c := System()
	before := time.Now().Unix()
	secs := c.NowSecs()
	after := time.Now().Unix()

	if secs < uint64(before) || secs > uint64(after) {
		t.Errorf("NowSecs = %d outside [%d, %d]", secs, before, after)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	f := NewFake(start)

	if f.NowSecs() != 1_700_000_000 {
		t.Errorf("NowSecs = %d, want 1700000000", f.NowSecs())
	}
	if f.NowMillis() != 1_700_000_000_000 {
		t.Errorf("NowMillis = %d, want 1700000000000", f.NowMillis())
	}

	f.Advance(90 * time.Second)
	if f.NowSecs() != 1_700_000_090 {
		t.Errorf("NowSecs after advance = %d, want 1700000090", f.NowSecs())
	}

	f.Set(start)
	if !f.Now().Equal(start) {
		t.Error("Set did not pin the clock")
	}
}

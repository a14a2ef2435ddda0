package dedupe

import (
	"testing"
	"time"
)

func fp(b byte) (f [20]byte) {
	f[0] = b
	return f
}

func TestObserveDetectsDuplicate(t *testing.T) {
	c := New(time.Minute, 0)
	if !c.Observe(fp(1)) {
		t.Fatal("first Observe of a fingerprint should report first-time (true)")
	}
	if c.Observe(fp(1)) {
		t.Fatal("second Observe of the same fingerprint should report duplicate (false)")
	}
	if !c.Observe(fp(2)) {
		t.Fatal("a different fingerprint should report first-time (true)")
	}
}

func TestZeroWindowDisablesCache(t *testing.T) {
	c := New(0, 0)
	if !c.Observe(fp(1)) {
		t.Fatal("disabled cache should report first-time")
	}
	if !c.Observe(fp(1)) {
		t.Fatal("disabled cache should never report a duplicate")
	}
	if c.Len() != 0 {
		t.Fatalf("disabled cache Len() = %d, want 0", c.Len())
	}
}

func TestEnforceCapEvictsOldestTenPercent(t *testing.T) {
	c := New(time.Hour, 10)
	for i := 0; i < 11; i++ {
		c.Observe(fp(byte(i)))
	}
	if c.Len() > 10 {
		t.Fatalf("Len() = %d, want <= 10 after overflow eviction", c.Len())
	}
	// The oldest entry (fp(0)) should have been evicted, making it
	// observable again as first-time.
	if !c.Observe(fp(0)) {
		t.Fatal("evicted fingerprint should be observable again as first-time")
	}
}

func TestSweepExpiresOldEntries(t *testing.T) {
	c := New(10*time.Millisecond, 0)
	c.Observe(fp(1))
	time.Sleep(30 * time.Millisecond)
	c.Observe(fp(2)) // triggers sweepLocked via a fresh insert

	if !c.Observe(fp(1)) {
		t.Fatal("fingerprint older than the window should be observable again as first-time")
	}
}

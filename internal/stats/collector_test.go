package stats

import (
	"testing"
	"time"
)

func TestTallyIncrements(t *testing.T) {
	c := New(time.Hour, nil)
	defer c.Stop()

	c.Tally("inbound")
	c.Tally("inbound")
	c.Tally("outbound")

	if got := c.Get("inbound"); got != 2 {
		t.Fatalf("Get(inbound) = %d, want 2", got)
	}
	if got := c.Get("outbound"); got != 1 {
		t.Fatalf("Get(outbound) = %d, want 1", got)
	}
	if got := c.Get("never-tallied"); got != 0 {
		t.Fatalf("Get(never-tallied) = %d, want 0", got)
	}
}

func TestSummaryIncludesEveryCounter(t *testing.T) {
	c := New(time.Hour, nil)
	defer c.Stop()

	c.Tally("a")
	c.Tally("b")

	summary := c.Summary()
	if len(summary) != 2 {
		t.Fatalf("Summary has %d entries, want 2", len(summary))
	}
	if summary["a"].Count != 1 || summary["b"].Count != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestOnTallyCallback(t *testing.T) {
	var calls []string
	c := New(time.Hour, func(name string) { calls = append(calls, name) })
	defer c.Stop()

	c.Tally("x")
	c.Tally("y")

	if len(calls) != 2 || calls[0] != "x" || calls[1] != "y" {
		t.Fatalf("onTally calls = %v, want [x y]", calls)
	}
}

func TestSnapshotComputesRate(t *testing.T) {
	c := New(time.Hour, nil)
	defer c.Stop()

	c.Tally("a")
	c.Tally("a")
	past := time.Now().Add(time.Second)
	c.snapshotAt(past)

	summary := c.Summary()
	if summary["a"].Rate <= 0 {
		t.Fatalf("Rate = %f, want > 0 after a snapshot one second later", summary["a"].Rate)
	}
}

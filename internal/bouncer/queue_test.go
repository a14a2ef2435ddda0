package bouncer

import (
	"net/http"
	"testing"
)

func TestEnqueueThenDrainSegmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenQueue(dir, DefaultMaxSegmentBytes)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if err := q.Enqueue(headers, []byte("payload-1")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	if err := q.Enqueue(headers, []byte("payload-2")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}

	// Roll so both entries land in a closed (drainable) segment.
	if err := q.active.Sync(); err != nil {
		t.Fatalf("Sync: %s", err)
	}
	if err := q.active.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if err := q.openNewActive(q.activeIndex + 1); err != nil {
		t.Fatalf("openNewActive: %s", err)
	}

	closed, err := q.closedSegments()
	if err != nil {
		t.Fatalf("closedSegments: %s", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closedSegments = %v, want exactly 1", closed)
	}
}

func TestSegmentRollsAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenQueue(dir, 64)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}

	headers := http.Header{}
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(headers, []byte("0123456789abcdef0123456789abcdef")); err != nil {
			t.Fatalf("Enqueue: %s", err)
		}
	}

	if q.activeIndex < 2 {
		t.Fatalf("activeIndex = %d, expected multiple rolls for a 64-byte segment cap", q.activeIndex)
	}
}

func TestDepthCountsOnlyClosedSegments(t *testing.T) {
	dir := t.TempDir()
	q, err := OpenQueue(dir, DefaultMaxSegmentBytes)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}
	if err := q.Enqueue(http.Header{}, []byte("payload")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}

	depth, err := q.Depth()
	if err != nil {
		t.Fatalf("Depth: %s", err)
	}
	if depth != 0 {
		t.Fatalf("Depth = %d, want 0 while everything is still in the active segment", depth)
	}
}

package bouncer

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func rollToClosedSegment(t *testing.T, q *Queue) {
	t.Helper()
	if err := q.active.Sync(); err != nil {
		t.Fatalf("Sync: %s", err)
	}
	if err := q.active.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	if err := q.openNewActive(q.activeIndex + 1); err != nil {
		t.Fatalf("openNewActive: %s", err)
	}
}

func TestDrainOnceForwardsAndRemovesSegment(t *testing.T) {
	var mu sync.Mutex
	var received []string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, string(body))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	q, err := OpenQueue(dir, DefaultMaxSegmentBytes)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}
	if err := q.Enqueue(http.Header{}, []byte("entry-1")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	if err := q.Enqueue(http.Header{}, []byte("entry-2")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	rollToClosedSegment(t, q)

	d := NewDrainer(q, upstream.URL)
	drained, err := d.drainOnce()
	if err != nil {
		t.Fatalf("drainOnce: %s", err)
	}
	if !drained {
		t.Fatal("drainOnce reported nothing drained")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 || received[0] != "entry-1" || received[1] != "entry-2" {
		t.Fatalf("received = %v, want [entry-1 entry-2] in order", received)
	}

	closed, err := q.closedSegments()
	if err != nil {
		t.Fatalf("closedSegments: %s", err)
	}
	if len(closed) != 0 {
		t.Fatalf("closedSegments = %v, want none left after a full drain", closed)
	}
}

func TestDrainOnceStopsAtFirstFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	dir := t.TempDir()
	q, err := OpenQueue(dir, DefaultMaxSegmentBytes)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}
	if err := q.Enqueue(http.Header{}, []byte("entry-1")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	rollToClosedSegment(t, q)

	d := NewDrainer(q, upstream.URL)
	drained, err := d.drainOnce()
	if err != nil {
		t.Fatalf("drainOnce: %s", err)
	}
	if drained {
		t.Fatal("drainOnce reported success despite an upstream failure")
	}

	closed, err := q.closedSegments()
	if err != nil {
		t.Fatalf("closedSegments: %s", err)
	}
	if len(closed) != 1 {
		t.Fatalf("closedSegments = %v, want the failed segment retained", closed)
	}
}

func TestDrainDiscardsStaleEntries(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("a stale entry should never be forwarded upstream")
	}))
	defer upstream.Close()

	dir := t.TempDir()
	q, err := OpenQueue(dir, DefaultMaxSegmentBytes)
	if err != nil {
		t.Fatalf("OpenQueue: %s", err)
	}
	if err := q.Enqueue(http.Header{}, []byte("stale-entry")); err != nil {
		t.Fatalf("Enqueue: %s", err)
	}
	rollToClosedSegment(t, q)

	d := NewDrainer(q, upstream.URL)
	d.DiscardAfter = time.Nanosecond
	time.Sleep(time.Millisecond)

	drained, err := d.drainOnce()
	if err != nil {
		t.Fatalf("drainOnce: %s", err)
	}
	if !drained {
		t.Fatal("drainOnce should report the segment fully consumed (discarded)")
	}
}

package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/envelope"
	"github.com/galnet-eddn/bus/internal/stats"
	"github.com/galnet-eddn/bus/internal/wire"
)

const rawUpload = `{
	"$schemaRef": "https://example.org/schemas/docked/1",
	"header": {
		"softwareName": "test-client",
		"softwareVersion": "1.0",
		"uploaderID": "cmdr-1",
		"uploaderIP": "203.0.113.9",
		"gatewayTimestamp": "2026-01-01T00:00:00.000Z"
	},
	"message": {"event": "Docked"}
}`

func buildFrame(t *testing.T) bus.Frame {
	t.Helper()
	compressed, err := wire.Deflate([]byte(rawUpload))
	if err != nil {
		t.Fatalf("Deflate: %s", err)
	}
	return bus.Frame(wire.Frame("https://example.org/schemas/docked/1", compressed))
}

func TestProcessPseudonymizesUploaderAndStripsIP(t *testing.T) {
	in := bus.New(4)
	out := bus.New(4)
	st := stats.New(time.Hour, nil)
	t.Cleanup(st.Stop)

	s := New(in, out, st, 15*time.Minute)
	sub := out.Subscribe("")

	s.process(buildFrame(t))

	select {
	case frame := <-sub.C():
		_, payload := wire.SplitTopic(frame)
		plain, err := wire.Inflate(payload)
		if err != nil {
			t.Fatalf("Inflate: %s", err)
		}
		env, err := envelope.Parse(plain)
		if err != nil {
			t.Fatalf("Parse: %s", err)
		}
		id, ok := env.UploaderID()
		if !ok || id == "cmdr-1" {
			t.Fatalf("uploaderID not pseudonymized: %q", id)
		}
		if len(id) != 40 {
			t.Fatalf("pseudonym length = %d, want 40 (hex SHA-1)", len(id))
		}
		if _, ok := env.UploaderID(); !ok {
			t.Fatal("uploaderID should still be present (pseudonymized, not removed)")
		}
		if strings.Contains(string(plain), envelope.HeaderUploaderIP) {
			t.Fatalf("republished envelope still carries uploaderIP: %s", plain)
		}
	case <-time.After(time.Second):
		t.Fatal("process never republished the frame")
	}

	if st.Get(StatOutbound) != 1 {
		t.Fatalf("outbound tally = %d, want 1", st.Get(StatOutbound))
	}
}

func TestProcessDiscardsDuplicateFrame(t *testing.T) {
	in := bus.New(4)
	out := bus.New(4)
	st := stats.New(time.Hour, nil)
	t.Cleanup(st.Stop)

	s := New(in, out, st, 15*time.Minute)
	sub := out.Subscribe("")

	s.process(buildFrame(t))
	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("first sighting never republished")
	}

	s.process(buildFrame(t))
	select {
	case <-sub.C():
		t.Fatal("duplicate frame was republished")
	case <-time.After(50 * time.Millisecond):
	}

	if st.Get(StatOutbound) != 1 {
		t.Fatalf("outbound tally = %d, want 1", st.Get(StatOutbound))
	}
	if st.Get(StatDuplicate) != 1 {
		t.Fatalf("duplicate tally = %d, want 1", st.Get(StatDuplicate))
	}
}

func TestProcessZeroWindowDisablesDedupe(t *testing.T) {
	in := bus.New(4)
	out := bus.New(4)
	st := stats.New(time.Hour, nil)
	t.Cleanup(st.Stop)

	s := New(in, out, st, 0)
	sub := out.Subscribe("")

	s.process(buildFrame(t))
	s.process(buildFrame(t))

	for i := 0; i < 2; i++ {
		select {
		case <-sub.C():
		case <-time.After(time.Second):
			t.Fatalf("frame %d never republished with dedupe disabled", i)
		}
	}
	if st.Get(StatOutbound) != 2 {
		t.Fatalf("outbound tally = %d, want 2", st.Get(StatOutbound))
	}
}

func TestPseudonymizeStableWithinNonceWindow(t *testing.T) {
	var n nonce
	first, err := n.current()
	if err != nil {
		t.Fatalf("current: %s", err)
	}
	second, err := n.current()
	if err != nil {
		t.Fatalf("current: %s", err)
	}
	if first != second {
		t.Fatal("nonce rotated on a second call within the rotation interval")
	}

	a := pseudonymize(first, "cmdr-1")
	b := pseudonymize(second, "cmdr-1")
	if a != b {
		t.Fatal("pseudonym is unstable for the same nonce and uploader")
	}

	c := pseudonymize(first, "cmdr-2")
	if a == c {
		t.Fatal("pseudonym collided for two different uploaders")
	}
}

package gateway

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/galnet-eddn/bus/internal/bus"
	"github.com/galnet-eddn/bus/internal/schema"
	"github.com/galnet-eddn/bus/internal/stats"
)

const testSchema = `{
	"id": "https://example.org/schemas/docked/1",
	"type": "object",
	"required": ["event", "station"],
	"properties": {
		"event": {"type": "string"},
		"station": {"type": "string"}
	}
}`

const validUpload = `{
	"$schemaRef": "https://example.org/schemas/docked/1",
	"header": {"softwareName": "test-client", "softwareVersion": "1.0", "uploaderID": "cmdr-1"},
	"message": {"event": "Docked", "station": "Jameson Memorial"}
}`

func newTestServer(t *testing.T) (*Server, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "docked.json"), []byte(testSchema), 0o644); err != nil {
		t.Fatalf("writing schema fixture: %s", err)
	}
	registry, err := schema.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %s", err)
	}
	b := bus.New(10)
	st := stats.New(time.Hour, nil)
	t.Cleanup(st.Stop)
	return New(Config{DedupeWindow: time.Minute}, b, registry, st), b
}

func postUpload(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestUploadAccepted(t *testing.T) {
	srv, b := newTestServer(t)
	sub := b.Subscribe("")

	rec := postUpload(t, srv, validUpload)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("status=%d body=%q, want 200 OK", rec.Code, rec.Body.String())
	}

	select {
	case frame := <-sub.C():
		if len(frame) == 0 {
			t.Fatal("published frame is empty")
		}
	case <-time.After(time.Second):
		t.Fatal("accepted upload was never published to the bus")
	}
}

func TestUploadDuplicateNotRepublished(t *testing.T) {
	srv, b := newTestServer(t)
	sub := b.Subscribe("")

	postUpload(t, srv, validUpload)
	<-sub.C()

	rec := postUpload(t, srv, validUpload)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate upload status=%d, want 200", rec.Code)
	}

	select {
	case frame := <-sub.C():
		t.Fatalf("duplicate upload was republished: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUploadUnparseableJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postUpload(t, srv, "not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "FAIL: UNPARSEABLE JSON") {
		t.Fatalf("body = %q, want FAIL: UNPARSEABLE JSON prefix", rec.Body.String())
	}
}

func TestUploadMissingStructuralElement(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postUpload(t, srv, `{"header":{"softwareName":"x","softwareVersion":"1"},"message":{}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "FAIL: MISSING STRUCTURAL ELEMENT $schemaRef") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestUploadUnknownSchema(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{
		"$schemaRef": "https://example.org/schemas/nonexistent/1",
		"header": {"softwareName": "x", "softwareVersion": "1"},
		"message": {}
	}`
	rec := postUpload(t, srv, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "FAIL: UNKNOWN SCHEMA") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestUploadSchemaValidationFailed(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{
		"$schemaRef": "https://example.org/schemas/docked/1",
		"header": {"softwareName": "x", "softwareVersion": "1"},
		"message": {"event": "Docked"}
	}`
	rec := postUpload(t, srv, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "FAIL: SCHEMA VALIDATION FAILED /message") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestClientIPHonorsForwardedOnlyFromTrustedPeer(t *testing.T) {
	_, trustedProxy, err := net.ParseCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatalf("ParseCIDR: %s", err)
	}

	trusted := httptest.NewRequest(http.MethodPost, "/upload/", nil)
	trusted.RemoteAddr = "10.0.0.5:4242"
	trusted.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := clientIP(trusted, true, trustedProxy); got != "203.0.113.9" {
		t.Fatalf("clientIP from trusted peer = %q, want 203.0.113.9", got)
	}

	untrusted := httptest.NewRequest(http.MethodPost, "/upload/", nil)
	untrusted.RemoteAddr = "198.51.100.2:4242"
	untrusted.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := clientIP(untrusted, true, trustedProxy); got != "198.51.100.2" {
		t.Fatalf("clientIP from untrusted peer = %q, want peer address 198.51.100.2 (X-Forwarded-For must be ignored)", got)
	}

	noPolicy := httptest.NewRequest(http.MethodPost, "/upload/", nil)
	noPolicy.RemoteAddr = "198.51.100.2:4242"
	noPolicy.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := clientIP(noPolicy, true, nil); got != "198.51.100.2" {
		t.Fatalf("clientIP with no trusted-proxy-prefix configured = %q, want peer address (forwarding must never be trusted by default)", got)
	}
}

func TestUploadTooLarge(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "docked.json"), []byte(testSchema), 0o644)
	registry, err := schema.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %s", err)
	}
	st := stats.New(time.Hour, nil)
	t.Cleanup(st.Stop)
	srv := New(Config{MaxBodyBytes: 8}, bus.New(10), registry, st)

	rec := postUpload(t, srv, validUpload)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "FAIL: TOO LARGE") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

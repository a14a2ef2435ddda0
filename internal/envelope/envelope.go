// Package envelope models the EDDN wire envelope: a `$schemaRef`, a
// `header` mapping and a schema-specific `message` mapping. The message
// body (and any header fields the Gateway doesn't itself own) are opaque to
// this package — only the fields the pipeline must read or mutate are
// named; everything else passes through untouched, the way the original
// Python implementation manipulates a plain dict.
package envelope

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // fingerprint, not a security boundary
	"encoding/json"
	"fmt"
	"time"

	"github.com/galnet-eddn/bus/internal/canon"
)

// Field names inside header/the top-level document.
const (
	FieldSchemaRef = "$schemaRef"
	FieldHeader    = "header"
	FieldMessage   = "message"

	HeaderSoftwareName    = "softwareName"
	HeaderSoftwareVersion = "softwareVersion"
	HeaderUploaderID      = "uploaderID"
	HeaderGatewayTS       = "gatewayTimestamp"
	HeaderUploaderIP      = "uploaderIP"
)

// transientHeaderFields are stripped before fingerprinting — they are
// gateway-observed, not part of the uploader's semantic content.
var transientHeaderFields = []string{HeaderGatewayTS, HeaderUploaderIP}

// Envelope is a parsed upload, backed by its decoded JSON document so that
// unknown fields round-trip unchanged.
type Envelope struct {
	doc map[string]any
}

// Parse decodes raw JSON into an Envelope. Numbers are preserved via
// json.Number so re-serialization (canonical or otherwise) never perturbs
// numeric literals.
func Parse(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return &Envelope{doc: doc}, nil
}

// Errors naming the top-level structural elements. RequireStructure reports
// a missing element by name rather than through these values.
var (
	ErrMissingSchemaRef = fmt.Errorf("%s", "$schemaRef")
	ErrMissingHeader    = fmt.Errorf("%s", "header")
	ErrMissingMessage   = fmt.Errorf("%s", "message")
)

// RequireStructure validates the four structural elements spec.md step 4
// requires. When one is missing it returns that element's name and false;
// otherwise it returns "" and true.
func (e *Envelope) RequireStructure() (missingField string, ok bool) {
	ref, isStr := e.doc[FieldSchemaRef].(string)
	if !isStr || ref == "" {
		return FieldSchemaRef, false
	}
	header, isMap := e.doc[FieldHeader].(map[string]any)
	if !isMap {
		return FieldHeader, false
	}
	if name, _ := header[HeaderSoftwareName].(string); name == "" {
		return FieldHeader + "." + HeaderSoftwareName, false
	}
	if v, _ := header[HeaderSoftwareVersion].(string); v == "" {
		return FieldHeader + "." + HeaderSoftwareVersion, false
	}
	if _, hasMessage := e.doc[FieldMessage]; !hasMessage {
		return FieldMessage, false
	}
	return "", true
}

// SchemaRef returns the envelope's $schemaRef.
func (e *Envelope) SchemaRef() string {
	ref, _ := e.doc[FieldSchemaRef].(string)
	return ref
}

// Message returns the schema-specific payload for schema validation.
func (e *Envelope) Message() any {
	return e.doc[FieldMessage]
}

func (e *Envelope) header() map[string]any {
	h, _ := e.doc[FieldHeader].(map[string]any)
	if h == nil {
		h = map[string]any{}
		e.doc[FieldHeader] = h
	}
	return h
}

// SoftwareName returns header.softwareName.
func (e *Envelope) SoftwareName() string {
	name, _ := e.header()[HeaderSoftwareName].(string)
	return name
}

// SoftwareVersion returns header.softwareVersion.
func (e *Envelope) SoftwareVersion() string {
	v, _ := e.header()[HeaderSoftwareVersion].(string)
	return v
}

// UploaderID returns header.uploaderID and whether it was present.
func (e *Envelope) UploaderID() (string, bool) {
	v, ok := e.header()[HeaderUploaderID]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// SetUploaderID overwrites header.uploaderID.
func (e *Envelope) SetUploaderID(id string) {
	e.header()[HeaderUploaderID] = id
}

// StripGatewayFields removes any client-provided gatewayTimestamp/
// uploaderIP (spec.md §4.E step 7) before the Gateway sets its own.
func (e *Envelope) StripGatewayFields() {
	h := e.header()
	delete(h, HeaderGatewayTS)
	delete(h, HeaderUploaderIP)
}

// SetGatewayTimestamp stamps header.gatewayTimestamp with t formatted as
// ISO-8601 UTC with millisecond precision and a trailing "Z".
func (e *Envelope) SetGatewayTimestamp(t time.Time) {
	e.header()[HeaderGatewayTS] = t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SetUploaderIP stamps header.uploaderIP.
func (e *Envelope) SetUploaderIP(ip string) {
	e.header()[HeaderUploaderIP] = ip
}

// RemoveUploaderIP unconditionally removes header.uploaderIP (Relay step).
func (e *Envelope) RemoveUploaderIP() {
	delete(e.header(), HeaderUploaderIP)
}

// Marshal serializes the envelope with encoding/json's default (insertion-
// order-independent map) rules — used for the bus wire frame, where byte
// stability doesn't matter, only valid JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e.doc)
}

// MarshalSorted serializes the envelope with canonical (sorted-key,
// ASCII-escaped) encoding — used by the Relay so that fingerprints taken
// downstream of it stay stable (spec.md §4.F step 6).
func (e *Envelope) MarshalSorted() ([]byte, error) {
	return canon.Marshal(e.doc)
}

// Fingerprint computes the SHA-1 of the canonical serialization of the
// envelope with transient header fields removed, per spec.md §3.
func (e *Envelope) Fingerprint() ([20]byte, error) {
	residual := make(map[string]any, len(e.doc))
	for k, v := range e.doc {
		residual[k] = v
	}
	if h, ok := e.doc[FieldHeader].(map[string]any); ok {
		hc := make(map[string]any, len(h))
		for k, v := range h {
			hc[k] = v
		}
		for _, f := range transientHeaderFields {
			delete(hc, f)
		}
		residual[FieldHeader] = hc
	}
	canonical, err := canon.Marshal(residual)
	if err != nil {
		return [20]byte{}, err
	}
	return sha1.Sum(canonical), nil //nolint:gosec
}

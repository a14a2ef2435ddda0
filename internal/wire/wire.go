// Package wire implements the bus frame format of spec.md §3: a
// zlib-deflated JSON body, optionally preceded by a topic segment
// separated by " |-| ".
package wire

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
)

// Separator delimits an optional topic prefix from the compressed payload.
const Separator = " |-| "

// ErrCorrupt is returned when a frame claims to be zlib-compressed but
// fails to inflate.
var ErrCorrupt = errors.New("corrupt compression")

// Deflate zlib-compresses data at the default compression level.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate zlib-decompresses data, reporting any failure as ErrCorrupt.
func Inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, ErrCorrupt
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, ErrCorrupt
	}
	return out, nil
}

// IsZlibHeader reports whether the first two bytes of data form a valid
// zlib header, used by the Gateway to sniff compression without relying on
// Content-Encoding (spec.md §4.E step 2).
func IsZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	// CMF/FLG: CM must be 8 (deflate) and the 16-bit header must be a
	// multiple of 31, per RFC 1950.
	cmf, flg := data[0], data[1]
	if cmf&0x0f != 8 {
		return false
	}
	return (uint16(cmf)*256+uint16(flg))%31 == 0
}

// Frame prefixes compressed with a topic segment: "<topic> |-| <bytes>".
func Frame(topic string, compressed []byte) []byte {
	out := make([]byte, 0, len(topic)+len(Separator)+len(compressed))
	out = append(out, topic...)
	out = append(out, Separator...)
	out = append(out, compressed...)
	return out
}

// SplitTopic separates a frame's topic prefix (if any) from its compressed
// payload. When no separator is found, the whole frame is treated as the
// payload and topic is "".
func SplitTopic(frame []byte) (topic string, payload []byte) {
	idx := bytes.Index(frame, []byte(Separator))
	if idx < 0 {
		return "", frame
	}
	return string(frame[:idx]), frame[idx+len(Separator):]
}

// Package codec converts between the vendor's jzb query parameter and
// structured event records.
//
// The wire value is compact JSON, compressed, base64 encoded without padding
// and percent-encoded. Several historical variants of the compression step
// are in the wild, so Decode walks an ordered ladder of decompressors and
// keeps the first one that produces JSON.
package codec

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Record is a single vendor event. The schema is opaque; callers only
// substitute identity and timestamp fields.
type Record = map[string]any

// Stage names the decompression variant that produced a Decode result.
type Stage string

const (
	StageZlib        Stage = "zlib"
	StageDeflate     Stage = "deflate"
	StageSkipDeflate Stage = "deflate_skip2"
	StageGzip        Stage = "gzip"
	StagePlain       Stage = "plain"
	StageNone        Stage = "none"
)

// Result is the detailed outcome of a decode.
type Result struct {
	Records []Record
	Stage   Stage
}

// attempt is one rung of the decompression ladder.
type attempt struct {
	stage Stage
	fn    func([]byte) ([]byte, error)
}

var ladder = []attempt{
	{StageZlib, func(b []byte) ([]byte, error) {
		r, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}},
	{StageDeflate, inflate},
	{StageSkipDeflate, func(b []byte) ([]byte, error) {
		if len(b) < 2 {
			return nil, io.ErrUnexpectedEOF
		}
		return inflate(b[2:])
	}},
	{StageGzip, func(b []byte) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}},
	{StagePlain, func(b []byte) ([]byte, error) { return b, nil }},
}

func inflate(b []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	return io.ReadAll(r)
}

// Decode turns a raw jzb value into event records. It never fails: any
// unrecoverable input yields an empty slice.
func Decode(raw string) []Record {
	return DecodeDetailed(raw).Records
}

// DecodeDetailed is Decode plus the ladder stage that succeeded.
func DecodeDetailed(raw string) Result {
	empty := Result{Records: []Record{}, Stage: StageNone}

	data, ok := decodeBase64(percentDecode(raw))
	if !ok {
		return empty
	}

	for _, a := range ladder {
		out, err := a.fn(data)
		if err != nil || !utf8.Valid(out) || !json.Valid(out) {
			continue
		}
		recs, ok := parseRecords(out)
		if !ok {
			return empty
		}
		return Result{Records: recs, Stage: a.stage}
	}
	return empty
}

// percentDecode leaves malformed escapes untouched. PathUnescape is used so
// that '+' from the standard base64 alphabet survives.
func percentDecode(s string) string {
	out, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return out
}

func decodeBase64(s string) ([]byte, bool) {
	// A query decoder may already have turned '+' into ' '.
	s = strings.ReplaceAll(strings.TrimRight(strings.TrimSpace(s), "="), " ", "+")
	if s == "" {
		return nil, false
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

func parseRecords(text []byte) ([]Record, bool) {
	text = bytes.TrimSpace(text)
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	if len(text) > 0 && text[0] == '{' {
		var one Record
		if err := dec.Decode(&one); err != nil {
			return nil, false
		}
		return []Record{one}, true
	}
	var many []Record
	if err := dec.Decode(&many); err != nil {
		return nil, false
	}
	if many == nil {
		many = []Record{}
	}
	return many, true
}

// Encode serialises events into the wire form accepted by the collector.
// The output always round-trips through Decode.
func Encode(events []Record) string {
	if events == nil {
		events = []Record{}
	}
	var js bytes.Buffer
	enc := json.NewEncoder(&js)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(events); err != nil {
		// Only unsupported values (channels, funcs, NaN) end up here.
		js.Reset()
		js.WriteString("[]")
	}

	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	_, _ = w.Write(bytes.TrimRight(js.Bytes(), "\n"))
	_ = w.Close()

	return url.QueryEscape(base64.RawURLEncoding.EncodeToString(z.Bytes()))
}

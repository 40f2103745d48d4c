// Package fingerprint extracts and normalizes client device fingerprints.
//
// Clients send a base64-encoded JSON snapshot of browser attributes in the
// X-Fingerprint header. The envelope is a weak identity signal: a request is
// never rejected because the snapshot is missing or malformed — decoding
// degrades to a nil record and the antifraud pipeline scores without it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrBadEnvelope reports a fingerprint envelope that could not be decoded.
// Callers treat it as a degradation signal, never as a request failure.
var ErrBadEnvelope = errors.New("fingerprint: malformed envelope")

// Screen holds client-reported display attributes.
type Screen struct {
	Width      int `json:"width,omitempty"`
	Height     int `json:"height,omitempty"`
	ColorDepth int `json:"colorDepth,omitempty"`
	PixelDepth int `json:"pixelDepth,omitempty"`
}

// Record is a structured snapshot of client-reported device attributes.
// Every field is optional; clients send whatever their environment exposes.
// Platform and UserAgent are the critical identity attributes, Language and
// Timezone the moderate ones (see the risk engine's drift rules).
type Record struct {
	UserAgent           string          `json:"userAgent,omitempty"`
	Language            string          `json:"language,omitempty"`
	Languages           []string        `json:"languages,omitempty"`
	Platform            string          `json:"platform,omitempty"`
	HardwareConcurrency int             `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        json.RawMessage `json:"deviceMemory,omitempty"` // number or "unknown"
	Screen              *Screen         `json:"screen,omitempty"`
	Timezone            string          `json:"timezone,omitempty"`
	TouchSupport        *bool           `json:"touchSupport,omitempty"`
	CookieEnabled       *bool           `json:"cookieEnabled,omitempty"`
	DoNotTrack          string          `json:"doNotTrack,omitempty"`
	WebGL               json.RawMessage `json:"webgl,omitempty"` // object or "not_supported"
	Canvas              string          `json:"canvas,omitempty"`
}

// Context is the normalized per-request fingerprint context attached by the
// extractor middleware and consumed by the antifraud pipeline.
type Context struct {
	Fingerprint *Record   // nil when absent or undecodable
	IP          string    // effective client IP
	Feature     string    // feature label, "unknown" when not declared
	UserAgent   string    // transport-level User-Agent header
	Timestamp   time.Time // extraction time
}

// Decode parses a base64 fingerprint envelope into a Record.
// Returns ErrBadEnvelope on bad encoding or malformed JSON.
func Decode(envelope string) (*Record, error) {
	if envelope == "" {
		return nil, ErrBadEnvelope
	}
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		// Some clients strip padding
		raw, err = base64.RawStdEncoding.DecodeString(envelope)
		if err != nil {
			return nil, ErrBadEnvelope
		}
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, ErrBadEnvelope
	}
	return &r, nil
}

// Digest computes the one-way identity digest of a fingerprint snapshot:
// lowercase hex SHA-256 of the record's canonical JSON encoding. A nil record
// digests as the empty record, so sessions created without a fingerprint
// still carry a comparable digest. The digest is used for equality only.
func Digest(r *Record) string {
	if r == nil {
		r = &Record{}
	}
	// Struct field order makes encoding/json output canonical here.
	raw, err := json.Marshal(r)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

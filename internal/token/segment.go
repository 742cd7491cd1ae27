package token

import "encoding/base64"

var segmentEncoding = base64.RawURLEncoding.Strict()

// EncodeSegment encodes b as unpadded URL-safe base64, the JWS segment form.
func EncodeSegment(b []byte) string {
	return segmentEncoding.EncodeToString(b)
}

// DecodeSegment reverses EncodeSegment. Padding, the standard alphabet and
// non-canonical trailing bits are rejected.
func DecodeSegment(s string) ([]byte, error) {
	return segmentEncoding.DecodeString(s)
}

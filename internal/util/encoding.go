package util

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseKeyHex decodes a hex-encoded secret of exactly KeyLength bytes.
func ParseKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(b) != KeyLength {
		WipeBytes(b)
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLength, len(b))
	}
	return b, nil
}

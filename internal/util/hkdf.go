package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size of keys produced by DeriveKey.
const KeyLength = 32

// DeriveKey expands secret into a KeyLength key bound to info. Distinct info
// strings yield independent keys from the same secret.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte(info))
	k := make([]byte, KeyLength)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("reading from HKDF: %w", err)
	}
	return k, nil
}

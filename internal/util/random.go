package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomIntRange returns a uniformly random int in [lo, hi].
func RandomIntRange(lo, hi int) (int, error) {
	if hi < lo {
		return 0, fmt.Errorf("random range: hi %d below lo %d", hi, lo)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return lo + int(n.Int64()), nil
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

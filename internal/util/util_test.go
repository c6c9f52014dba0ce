package util

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	secret := []byte("correct horse battery staple")

	a, err := DeriveKey(secret, "purpose-a")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(a) != KeyLength {
		t.Errorf("expected %d bytes, got %d", KeyLength, len(a))
	}

	again, _ := DeriveKey(secret, "purpose-a")
	if !bytes.Equal(a, again) {
		t.Error("DeriveKey is not deterministic")
	}

	b, _ := DeriveKey(secret, "purpose-b")
	if bytes.Equal(a, b) {
		t.Error("different info strings produced the same key")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("WipeBytes failed, got %v", b)
	}
}

func TestParseKeyHex(t *testing.T) {
	hexKey := strings.Repeat("ab", KeyLength)
	k, err := ParseKeyHex(" " + hexKey + "\n")
	if err != nil {
		t.Fatalf("ParseKeyHex failed: %v", err)
	}
	if len(k) != KeyLength || k[0] != 0xab {
		t.Errorf("unexpected key %x", k)
	}

	if _, err := ParseKeyHex("abcd"); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := ParseKeyHex("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
}

func TestRandom(t *testing.T) {
	b, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(b) != 16 {
		t.Errorf("expected 16 bytes, got %d", len(b))
	}

	for range 200 {
		n, err := RandomIntRange(52, 58)
		if err != nil {
			t.Fatalf("RandomIntRange failed: %v", err)
		}
		if n < 52 || n > 58 {
			t.Fatalf("RandomIntRange out of range: %d", n)
		}
	}
	if n, _ := RandomIntRange(7, 7); n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
	if _, err := RandomIntRange(3, 2); err == nil {
		t.Error("expected error for inverted range")
	}
}

package api

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/internal/util"
)

var tokenTestNow = time.Unix(1_800_000_000, 0)

func testClaims() tokenClaims {
	return newTokenClaims("c-1", "login", "t-1", tokenTestNow, time.Minute)
}

func TestTokenSignAndVerify(t *testing.T) {
	s, err := newTokenSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	token, err := s.sign(testClaims())
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	got, err := s.verify(token, tokenTestNow)
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, "c-1", got.ChallengeID)
	assert.Equal(t, "login", string(got.Scene))
	assert.Equal(t, tokenTestNow.Add(time.Minute).Unix(), got.expiry().Unix())
}

func TestTokenVerifyExpiry(t *testing.T) {
	s, err := newTokenSigner([]byte("secret"))
	require.NoError(t, err)
	token, err := s.sign(testClaims())
	require.NoError(t, err)

	_, err = s.verify(token, tokenTestNow.Add(59*time.Second))
	assert.NoError(t, err)

	_, err = s.verify(token, tokenTestNow.Add(time.Minute))
	assert.ErrorIs(t, err, errTokenExpired)
	assert.NotErrorIs(t, err, errInvalidToken)
}

func TestTokenVerifyRejectsTampering(t *testing.T) {
	s, err := newTokenSigner([]byte("secret-one"))
	require.NoError(t, err)
	other, err := newTokenSigner([]byte("secret-two"))
	require.NoError(t, err)

	token, err := s.sign(testClaims())
	require.NoError(t, err)
	otherToken, err := other.sign(testClaims())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	forged := base64.RawURLEncoding.EncodeToString(
		[]byte(`{"cid":"c-1","scn":"register","jti":"t-1","iss":"slidergate","exp":1900000000}`))

	for name, tok := range map[string]string{
		"other key":      otherToken,
		"swapped claims": parts[0] + "." + forged + "." + parts[2],
		"no signature":   parts[0] + "." + parts[1],
		"bad base64":     parts[0] + "." + parts[1] + ".***",
		"empty":          "",
		"truncated sig":  token[:len(token)-2],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.verify(tok, tokenTestNow)
			assert.ErrorIs(t, err, errInvalidToken)
		})
	}
}

func TestTokenVerifyRejectsOtherAlgorithms(t *testing.T) {
	secret := []byte("alg-secret")
	s, err := newTokenSigner(secret)
	require.NoError(t, err)
	key, err := util.DeriveKey(secret, tokenKeyInfo)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, testClaims()).SignedString(key)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{"HS512": hs512, "none": none} {
		t.Run(name, func(t *testing.T) {
			_, err := s.verify(tok, tokenTestNow)
			assert.ErrorIs(t, err, errInvalidToken)
		})
	}
}

func TestTokenVerifyRequiresIDAndExpiry(t *testing.T) {
	s, err := newTokenSigner([]byte("secret"))
	require.NoError(t, err)

	noID := testClaims()
	noID.ID = ""
	noExp := testClaims()
	noExp.ExpiresAt = nil

	for name, c := range map[string]tokenClaims{"no jti": noID, "no exp": noExp} {
		t.Run(name, func(t *testing.T) {
			tok, err := s.sign(c)
			require.NoError(t, err)
			_, err = s.verify(tok, tokenTestNow)
			assert.ErrorIs(t, err, errInvalidToken)
		})
	}
}

func TestNewTokenSignerRequiresSecret(t *testing.T) {
	_, err := newTokenSigner(nil)
	assert.Error(t, err)
}

package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/internal/util"
)

var (
	errInvalidToken  = errors.New("invalid captcha token")
	errTokenExpired  = errors.New("captcha token expired")
	errSceneMismatch = errors.New("captcha token issued for another scene")
)

const (
	tokenKeyInfo = "slidergate:captcha-token:v1"
	tokenIssuer  = "slidergate"
)

// tokenClaims is the signed body of a captcha token. The registered ID is
// the jti that RedeemToken consumes.
type tokenClaims struct {
	ChallengeID string        `json:"cid"`
	Scene       captcha.Scene `json:"scn"`
	jwt.RegisteredClaims
}

func newTokenClaims(challengeID string, scene captcha.Scene, jti string, now time.Time, ttl time.Duration) tokenClaims {
	return tokenClaims{
		ChallengeID: challengeID,
		Scene:       scene,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (c tokenClaims) expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// tokenSigner issues and checks HS256 captcha tokens. The MAC key is derived
// from the configured secret and kept in a memguard enclave between uses.
type tokenSigner struct {
	key *memguard.Enclave
}

func newTokenSigner(secret []byte) (*tokenSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret must not be empty")
	}
	k, err := util.DeriveKey(secret, tokenKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("deriving token key: %w", err)
	}
	// NewEnclave wipes k.
	return &tokenSigner{key: memguard.NewEnclave(k)}, nil
}

func (s *tokenSigner) sign(c tokenClaims) (string, error) {
	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening token key: %w", err)
	}
	defer buf.Destroy()

	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(buf.Bytes())
}

func (s *tokenSigner) verify(token string, now time.Time) (tokenClaims, error) {
	var c tokenClaims
	buf, err := s.key.Open()
	if err != nil {
		return c, fmt.Errorf("opening token key: %w", err)
	}
	defer buf.Destroy()

	_, err = jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return buf.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return c, errTokenExpired
	case err != nil:
		return tokenClaims{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	case c.ID == "":
		return tokenClaims{}, errInvalidToken
	}
	return c, nil
}

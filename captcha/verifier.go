package captcha

import (
	"context"
	"log/slog"
)

// Verifier submits completed drags for the live challenge.
type Verifier struct {
	svc       Service
	lifecycle *Lifecycle
	logger    *slog.Logger
}

// NewVerifier returns a Verifier that reads the live challenge from lifecycle.
func NewVerifier(svc Service, lifecycle *Lifecycle, opts ...Option) *Verifier {
	return newVerifier(svc, lifecycle, newConfig(opts))
}

func newVerifier(svc Service, lifecycle *Lifecycle, cfg clientConfig) *Verifier {
	return &Verifier{
		svc:       svc,
		lifecycle: lifecycle,
		logger:    cfg.logger.With("component", "captcha.verifier"),
	}
}

// Verify checks a against the live challenge. Attempts with no live
// challenge or a duration below the challenge's minimum are rejected
// without contacting the service. On success the challenge is consumed.
func (v *Verifier) Verify(ctx context.Context, a Attempt) (Token, error) {
	c, ok := v.lifecycle.Current()
	if !ok {
		return Token{}, ErrChallengeMissing
	}
	if a.Duration < c.MinInteractionDuration {
		v.logger.Debug("attempt below minimum duration",
			"challenge_id", c.ID,
			"duration_ms", a.Duration.Milliseconds(),
			"min_duration_ms", c.MinInteractionDuration.Milliseconds(),
		)
		return Token{}, ErrDurationTooShort
	}

	req := VerifyRequest{
		ChallengeID:   c.ID,
		Scene:         c.Scene,
		X:             a.ReleaseX,
		Y:             a.ReleaseY,
		SliderOffsetX: a.SliderOffsetX,
		Duration:      a.Duration.Milliseconds(),
		Trail:         SampleTrail(a.Trail),
	}

	data, err := v.svc.VerifyAttempt(ctx, req)
	if err != nil {
		v.logger.Info("verification rejected", "challenge_id", c.ID, "error", err)
		return Token{}, newVerificationError(err)
	}
	if data == nil || data.CaptchaToken == "" {
		v.logger.Warn("verification succeeded without token", "challenge_id", c.ID)
		return Token{}, &VerificationError{}
	}

	v.lifecycle.Consume(c.ID)
	return Token{Value: data.CaptchaToken, Scene: c.Scene, SummaryText: data.SummaryText}, nil
}

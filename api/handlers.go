package api

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/internal/util"
	"github.com/jmcleod/slidergate/storage"
)

// targetMargin keeps the hidden slot away from the slider start and the
// right edge of the canvas.
const targetMargin = 10

// Reason codes recorded in the audit log.
const (
	reasonNotFound     = "not_found"
	reasonScene        = "scene_mismatch"
	reasonInactive     = "inactive"
	reasonExpired      = "expired"
	reasonAttempts     = "attempts_exhausted"
	reasonDuration     = "duration"
	reasonTrail        = "trail"
	reasonPosition     = "position"
	reasonInvalidToken = "invalid_token"
	reasonReplay       = "replay"
)

func (a *API) clientIP(r *http.Request) string {
	if ip := clientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return a.extractClientIP(r)
}

// IssueChallenge creates a new puzzle for the requested scene.
func (a *API) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[captcha.IssueRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	scene := captcha.NormalizeScene(string(req.Scene))
	pol, ok := a.policy(scene)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scene")
		return
	}

	ip := a.clientIP(r)
	if allowed, retry := a.issueLimiter.allow(ip+"|"+string(scene), pol.IssueLimit, pol.IssueWindow); !allowed {
		a.audit.logFailure(AuditIssueRateLimited, r, ip, "issue_limit", slog.String("scene", string(scene)))
		writeRateLimited(w, retry, requestPrinter(r).Sprintf(msgIssueLimited))
		return
	}

	c, err := a.newChallenge(scene, pol)
	if err != nil {
		writeInternalError(w, a.logger, "creating challenge", err)
		return
	}
	if err := a.repo.PutChallenge(r.Context(), c); err != nil {
		writeInternalError(w, a.logger, "storing challenge", err)
		return
	}
	a.audit.logChallenge(AuditChallengeIssued, r, ip, c.ID, c.Scene)

	writeData(w, captcha.IssueData{
		ChallengeID: c.ID,
		BgURL:       a.imageRef(c.ID, "bg.png"),
		PuzzleURL:   a.imageRef(c.ID, "puzzle.png"),
		Slider: &captcha.SliderSpec{
			Width:         c.CanvasWidth,
			Height:        c.CanvasHeight,
			PuzzleWidth:   c.PieceWidth,
			MinDurationMs: c.MinDurationMs,
		},
	})
}

func (a *API) newChallenge(scene captcha.Scene, pol ScenePolicy) (*storage.Challenge, error) {
	x, err := util.RandomIntRange(pol.PieceWidth+targetMargin, pol.CanvasWidth-pol.PieceWidth-targetMargin)
	if err != nil {
		return nil, err
	}
	y, err := util.RandomIntRange(0, pol.CanvasHeight-pol.PieceWidth)
	if err != nil {
		return nil, err
	}
	now := a.now()
	return &storage.Challenge{
		ID:            uuid.NewString(),
		Scene:         string(scene),
		TargetX:       x,
		TargetY:       y,
		CanvasWidth:   pol.CanvasWidth,
		CanvasHeight:  pol.CanvasHeight,
		PieceWidth:    pol.PieceWidth,
		MinDurationMs: pol.MinDuration.Milliseconds(),
		Status:        storage.StatusActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(pol.ChallengeTTL),
	}, nil
}

func (a *API) imageRef(id, name string) string {
	return strings.TrimSuffix(a.imageBase, "/") + "/" + id + "/" + name
}

// VerifyAttempt checks a drag against the stored challenge and, on success,
// returns a signed captcha token.
func (a *API) VerifyAttempt(w http.ResponseWriter, r *http.Request) {
	ip := a.clientIP(r)
	if blocked, retry := a.failures.check(ip); blocked {
		a.audit.logFailure(AuditVerifyRateLimited, r, ip, "lockout")
		writeRateLimited(w, retry, requestPrinter(r).Sprintf(msgLockedOut))
		return
	}

	req, ok := decodeJSON[captcha.VerifyRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "challenge_id is required")
		return
	}
	scene := captcha.NormalizeScene(string(req.Scene))
	pol, ok := a.policy(scene)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown scene")
		return
	}

	ctx := r.Context()
	c, err := a.repo.GetChallenge(ctx, req.ChallengeID)
	if errors.Is(err, storage.ErrNotFound) {
		a.rejectAttempt(w, r, ip, req.ChallengeID, scene, reasonNotFound, msgChallengeExpired)
		return
	}
	if err != nil {
		writeInternalError(w, a.logger, "loading challenge", err)
		return
	}

	now := a.now()
	switch {
	case c.Scene != string(scene):
		a.rejectAttempt(w, r, ip, c.ID, scene, reasonScene, msgSceneMismatch)
		return
	case c.Status != storage.StatusActive:
		a.rejectAttempt(w, r, ip, c.ID, scene, reasonInactive, msgChallengeExpired)
		return
	case c.Expired(now):
		a.rejectAttempt(w, r, ip, c.ID, scene, reasonExpired, msgChallengeExpired)
		return
	case c.Attempts >= pol.MaxAttempts:
		a.retire(r, c)
		a.rejectAttempt(w, r, ip, c.ID, scene, reasonAttempts, msgTooManyAttempts)
		return
	}

	expected := c.Version
	c.Attempts++
	reason, msg := checkAttempt(c, pol, req)
	switch {
	case reason == "":
		c.Status = storage.StatusConsumed
	case c.Attempts >= pol.MaxAttempts:
		c.Status = storage.StatusDiscarded
	}
	if err := a.repo.UpdateChallenge(ctx, c, expected); err != nil {
		if errors.Is(err, storage.ErrCASFailed) || errors.Is(err, storage.ErrNotFound) {
			mapError(w, err)
			return
		}
		writeInternalError(w, a.logger, "updating challenge", err)
		return
	}
	if reason != "" {
		a.rejectAttempt(w, r, ip, c.ID, scene, reason, msg,
			slog.Int("attempts", c.Attempts), slog.Float64("offset", req.SliderOffsetX))
		return
	}

	a.failures.recordSuccess(ip)
	claims := newTokenClaims(c.ID, scene, uuid.NewString(), now, pol.TokenTTL)
	token, err := a.signer.sign(claims)
	if err != nil {
		writeInternalError(w, a.logger, "signing captcha token", err)
		return
	}
	a.audit.logChallenge(AuditChallengeVerified, r, ip, c.ID, c.Scene,
		slog.Int("attempts", c.Attempts), slog.Int64("duration_ms", req.Duration))

	writeData(w, captcha.VerifyData{
		CaptchaToken: token,
		SummaryText:  summaryText(requestPrinter(r), req.Duration),
	})
}

// checkAttempt returns an empty reason when the drag is accepted.
func checkAttempt(c *storage.Challenge, pol ScenePolicy, req captcha.VerifyRequest) (reason, msg string) {
	switch {
	case req.Duration < c.MinDurationMs:
		return reasonDuration, msgTooFast
	case len(req.Trail) > captcha.MaxTrailPoints, int64(len(req.Trail)) > req.Duration:
		return reasonTrail, msgAbnormalTrail
	case syntheticTrail(req.Trail):
		return reasonTrail, msgAbnormalTrail
	case math.IsNaN(req.SliderOffsetX) || math.Abs(req.SliderOffsetX-float64(c.TargetX)) > pol.Tolerance:
		return reasonPosition, msgNotAligned
	}
	return "", ""
}

// syntheticTrail reports a perfectly straight trail with a constant step,
// which no human hand produces.
func syntheticTrail(trail []captcha.Point) bool {
	if len(trail) < 3 {
		return false
	}
	y := trail[0].Y()
	step := trail[1].X() - trail[0].X()
	for i := 1; i < len(trail); i++ {
		if trail[i].Y() != y || trail[i].X()-trail[i-1].X() != step {
			return false
		}
	}
	return true
}

// retire marks a challenge that ran out of attempts as discarded. A lost CAS
// race is harmless: some other request already moved it on.
func (a *API) retire(r *http.Request, c *storage.Challenge) {
	expected := c.Version
	c.Status = storage.StatusDiscarded
	if err := a.repo.UpdateChallenge(r.Context(), c, expected); err != nil && !errors.Is(err, storage.ErrCASFailed) {
		a.logger.Warn("retiring challenge", "challenge_id", c.ID, "error", err)
	}
}

// rejectAttempt records a failed verification and writes the failure
// envelope. Failures are reported with status 200 so the client can show
// the message.
func (a *API) rejectAttempt(w http.ResponseWriter, r *http.Request, ip, challengeID string, scene captcha.Scene, reason, msg string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{
		slog.String("challenge_id", challengeID),
		slog.String("scene", string(scene)),
	}, extra...)
	a.audit.logFailure(AuditVerifyFailure, r, ip, reason, attrs...)
	if a.failures.recordFailure(ip) {
		a.audit.log(AuditClientLockedOut, r, ip)
	}
	writeError(w, http.StatusOK, requestPrinter(r).Sprintf(msg))
}

// DiscardChallenge abandons a challenge. It succeeds for unknown ids so that
// clients can release challenges without coordination.
func (a *API) DiscardChallenge(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[captcha.DiscardRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.ChallengeID == "" {
		writeError(w, http.StatusBadRequest, "challenge_id is required")
		return
	}
	scene := captcha.NormalizeScene(string(req.Scene))

	ctx := r.Context()
	c, err := a.repo.GetChallenge(ctx, req.ChallengeID)
	if errors.Is(err, storage.ErrNotFound) {
		writeOK(w)
		return
	}
	if err != nil {
		writeInternalError(w, a.logger, "loading challenge", err)
		return
	}
	if c.Status != storage.StatusActive || c.Scene != string(scene) {
		writeOK(w)
		return
	}
	if err := a.repo.DeleteChallenge(ctx, c.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		writeInternalError(w, a.logger, "deleting challenge", err)
		return
	}
	a.audit.logChallenge(AuditChallengeDiscarded, r, a.clientIP(r), c.ID, c.Scene)
	writeOK(w)
}

// RedeemToken accepts a captcha token on behalf of the gated action. Each
// token can be redeemed once.
func (a *API) RedeemToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[captcha.RedeemRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	ip := a.clientIP(r)

	claims, err := a.signer.verify(req.CaptchaToken, a.now())
	if err == nil && claims.Scene != captcha.NormalizeScene(string(req.Scene)) {
		err = errSceneMismatch
	}
	if err != nil {
		if !errors.Is(err, errInvalidToken) && !errors.Is(err, errTokenExpired) && !errors.Is(err, errSceneMismatch) {
			writeInternalError(w, a.logger, "verifying captcha token", err)
			return
		}
		a.audit.logFailure(AuditTokenRejected, r, ip, reasonInvalidToken, slog.String("error", err.Error()))
		mapError(w, err)
		return
	}

	if err := a.repo.ConsumeToken(r.Context(), claims.ID, claims.expiry()); err != nil {
		if errors.Is(err, storage.ErrTokenReplayed) {
			a.audit.logFailure(AuditTokenRejected, r, ip, reasonReplay, slog.String("challenge_id", claims.ChallengeID))
			mapError(w, err)
			return
		}
		writeInternalError(w, a.logger, "recording redeemed token", err)
		return
	}
	a.audit.logChallenge(AuditTokenRedeemed, r, ip, claims.ChallengeID, string(claims.Scene))

	writeData(w, captcha.RedeemData{
		ChallengeID: claims.ChallengeID,
		Scene:       claims.Scene,
	})
}

package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditChallengeIssued    AuditEvent = "challenge_issued"
	AuditChallengeDiscarded AuditEvent = "challenge_discarded"
	AuditIssueRateLimited   AuditEvent = "issue_rate_limited"
	AuditChallengeVerified  AuditEvent = "challenge_verified"
	AuditVerifyFailure      AuditEvent = "verify_failure"
	AuditVerifyRateLimited  AuditEvent = "verify_rate_limited"
	AuditClientLockedOut    AuditEvent = "client_locked_out"
	AuditTokenRedeemed      AuditEvent = "token_redeemed"
	AuditTokenRejected      AuditEvent = "token_rejected"
)

// auditLogger writes structured security audit records and forwards them to
// the metrics collector and, when configured, an external webhook.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
	now     func() time.Time
}

func newAuditLogger(logger *slog.Logger, now func() time.Time) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
		now:    now,
	}
}

// log writes a structured audit log entry. clientIP is the rate-limit
// identity of the caller, which may differ from RemoteAddr behind a proxy.
func (al *auditLogger) log(event AuditEvent, r *http.Request, clientIP string, attrs ...slog.Attr) {
	ts := al.now().UTC().Format(time.RFC3339)
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("client_ip", clientIP),
		slog.String("timestamp", ts),
	}
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", append(base, attrs...)...)

	al.metrics.recordEvent(event)

	if al.webhook != nil {
		evt := webhookEvent{
			Event:     string(event),
			ClientIP:  clientIP,
			Timestamp: ts,
		}
		if len(attrs) > 0 {
			evt.Attrs = make(map[string]string, len(attrs))
			for _, a := range attrs {
				evt.Attrs[a.Key] = a.Value.String()
			}
		}
		al.webhook.enqueue(evt)
	}
}

// logChallenge is a convenience for events about one challenge.
func (al *auditLogger) logChallenge(event AuditEvent, r *http.Request, clientIP, challengeID, scene string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("challenge_id", challengeID),
		slog.String("scene", scene),
	}
	al.log(event, r, clientIP, append(attrs, extra...)...)
}

// logFailure logs a rejected request with its reason code.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, clientIP, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("reason", reason)}
	al.log(event, r, clientIP, append(attrs, extra...)...)
}

package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Per-IP verification failure limiter
// ---------------------------------------------------------------------------

const (
	// maxFailures is the number of failed verifications from one client
	// before lockout begins.
	maxFailures = 10
	// baseLockout is the initial lockout once maxFailures is reached.
	baseLockout = 30 * time.Second
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure a record is kept.
	attemptExpiry = 1 * time.Hour
)

// failureLimiter tracks failed verifications per client IP and enforces
// exponential backoff.
type failureLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newFailureLimiter(now func() time.Time) *failureLimiter {
	return &failureLimiter{
		now:      now,
		attempts: make(map[string]*attemptRecord),
	}
}

// check returns true if ip is locked out, with how long the caller should wait.
func (rl *failureLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure counts a failed verification and returns true if it put the
// client into lockout.
func (rl *failureLimiter) recordFailure(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures < maxFailures {
		return false
	}
	// baseLockout * 2^(failures - maxFailures), capped.
	lockout := baseLockout
	for i := 0; i < rec.failures-maxFailures; i++ {
		lockout *= 2
		if lockout > maxLockout {
			lockout = maxLockout
			break
		}
	}
	rec.lockedUntil = now.Add(lockout)
	return true
}

func (rl *failureLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

func (rl *failureLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > attemptExpiry {
			delete(rl.attempts, ip)
		}
	}
}

// ---------------------------------------------------------------------------
// Issuance limiter (per client and scene, sliding window)
// ---------------------------------------------------------------------------

type issueLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string][]time.Time
}

func newIssueLimiter(now func() time.Time) *issueLimiter {
	return &issueLimiter{now: now, windows: make(map[string][]time.Time)}
}

// allow records an issuance for key unless limit issuances already happened
// within window. When refused it reports when the oldest one leaves the window.
func (rl *issueLimiter) allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	times := trimWindow(rl.windows[key], now, window)
	if len(times) >= limit {
		rl.windows[key] = times
		return false, times[0].Add(window).Sub(now)
	}
	rl.windows[key] = append(times, now)
	return true, 0
}

// sweep drops keys whose newest entry is older than maxWindow.
func (rl *issueLimiter) sweep(maxWindow time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxWindow)
	for key, times := range rl.windows {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(rl.windows, key)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Helper: extract client IP
// ---------------------------------------------------------------------------

func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, then Forwarded, then X-Real-IP) are only
// consulted when the direct peer is inside one of trustedProxies; otherwise
// RemoteAddr is used.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for _, elem := range strings.Split(fwd, ",") {
				for _, param := range strings.Split(elem, ";") {
					param = strings.TrimSpace(param)
					if len(param) > 4 && strings.EqualFold(param[:4], "for=") {
						if ip, ok := parseIPCandidate(param[4:]); ok {
							return ip
						}
					}
				}
			}
		}

		if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	return remoteIP
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}

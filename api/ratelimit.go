package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// loginRateLimiter tracks failed login attempts per account and enforces
// exponential backoff. The key is a SHA-256 of the normalized email, not the
// email itself, so rate-limit state doesn't hold addresses in the clear.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string]*attemptRecord),
	}
}

func accountKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

// check returns true if the account is currently locked out, along with how
// long the caller should wait. A zero duration means the request may proceed.
func (rl *loginRateLimiter) check(email string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := accountKey(email)
	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is exceeded.
func (rl *loginRateLimiter) recordFailure(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := accountKey(email)
	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxFailures {
		// Exponential backoff: baseLockout * 2^(failures - maxFailures)
		shift := rec.failures - maxFailures
		lockout := baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// recordSuccess resets the failure counter on a successful login.
func (rl *loginRateLimiter) recordSuccess(email string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, accountKey(email))
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many requests; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Per-IP login rate limiter
// ---------------------------------------------------------------------------

const (
	ipMaxFailures = 20
	ipBaseLockout = 1 * time.Minute
	ipMaxLockout  = 30 * time.Minute
)

// ipRateLimiter tracks failed login attempts per source IP. The per-account
// limiter alone would let one origin walk many accounts below each account's
// threshold.
type ipRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

func newIPRateLimiter() *ipRateLimiter {
	return &ipRateLimiter{
		attempts: make(map[string]*attemptRecord),
	}
}

func (rl *ipRateLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ip)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

func (rl *ipRateLimiter) recordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ip] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= ipMaxFailures {
		shift := rec.failures - ipMaxFailures
		lockout := ipBaseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > ipMaxLockout {
				lockout = ipMaxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

func (rl *ipRateLimiter) recordSuccess(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ip)
}

// ---------------------------------------------------------------------------
// Password reset request limiter (per-IP)
// ---------------------------------------------------------------------------

const (
	resetIPMaxRequests = 5
	resetIPBaseLockout = 5 * time.Minute
	resetIPMaxLockout  = 1 * time.Hour
	resetIPExpiry      = 1 * time.Hour
)

// resetRequestLimiter throttles password reset requests per source IP. Every
// request counts, not just failures: each one sends an email and writes a
// token row regardless of whether the account exists.
type resetRequestLimiter struct {
	mu       sync.Mutex
	requests map[string]*attemptRecord
}

func newResetRequestLimiter() *resetRequestLimiter {
	return &resetRequestLimiter{
		requests: make(map[string]*attemptRecord),
	}
}

func (rl *resetRequestLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.requests[ip]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastFailure) > resetIPExpiry {
		delete(rl.requests, ip)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

func (rl *resetRequestLimiter) record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.requests[ip]
	if !ok {
		rec = &attemptRecord{}
		rl.requests[ip] = rec
	}
	rec.failures++ // "failures" used as a generic counter here
	rec.lastFailure = time.Now()

	if rec.failures >= resetIPMaxRequests {
		shift := rec.failures - resetIPMaxRequests
		lockout := resetIPBaseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > resetIPMaxLockout {
				lockout = resetIPMaxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// ---------------------------------------------------------------------------
// Helper: extract client IP
// ---------------------------------------------------------------------------

// extractClientIP returns the best-effort client IP for rate limiting. Proxy
// headers (X-Forwarded-For, X-Real-IP) are never consulted: an untrusted
// client could spoof them to dodge the limiter, so only RemoteAddr counts.
func extractClientIP(r *http.Request) string {
	if ip, ok := parseIPCandidate(r.RemoteAddr); ok {
		return ip
	}
	return ""
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	// Remove IPv6 brackets if present.
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// callerAuth asserts that the bearer of an HS256 token is the sender named in
// the request. The token subject must equal the bech32 sender.
type callerAuth struct {
	secret []byte
	issuer string
}

func newCallerAuth(secret, issuer string) *callerAuth {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &callerAuth{secret: []byte(secret), issuer: strings.TrimSpace(issuer)}
}

func (a *callerAuth) assert(r *http.Request, sender string) *RPCError {
	if a == nil {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) { return a.secret, nil }, opts...)
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject != strings.TrimSpace(sender) {
		return &RPCError{Code: codeUnauthorized, Message: "token subject does not match sender"}
	}
	return nil
}

const (
	visitorIdleTTL   = 5 * time.Minute
	visitorSweepEach = time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sourceLimiter applies a token bucket per client address. Buckets idle for
// longer than visitorIdleTTL are swept out on the request path.
type sourceLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	visitors  map[string]*visitor
	lastSweep time.Time
	clockNow  func() time.Time
}

func newSourceLimiter(perMinute float64, burst int) *sourceLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimiter{
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

func (l *sourceLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	now := l.clockNow()
	if now.Sub(l.lastSweep) >= visitorSweepEach {
		l.sweep(now)
	}
	entry, ok := l.visitors[source]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[source] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold l.mu.
func (l *sourceLimiter) sweep(now time.Time) {
	for id, entry := range l.visitors {
		if now.Sub(entry.lastSeen) > visitorIdleTTL {
			delete(l.visitors, id)
		}
	}
	l.lastSweep = now
}

func (l *sourceLimiter) size() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// clientSource keys rate limiting. Forwarding headers are client controlled
// and only honoured when the server sits behind a trusted proxy.
func clientSource(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			if candidate := strings.TrimSpace(strings.Split(forwarded, ",")[0]); candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package rpc

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "rpc.request_id"
	contextKeyScopes    contextKey = "rpc.scopes"
)

// requestIDHeader is echoed back on every response so operators can correlate
// logs.
const requestIDHeader = "X-Request-ID"

// RequestID attaches a request identifier to the context, generating one when
// the client did not supply its own.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// RateLimiter throttles clients by remote address with a token bucket per
// visitor.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*rate.Limiter
	perSecond rate.Limit
	burst     int
}

// NewRateLimiter allows requestsPerMinute sustained requests per client.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	burst := requestsPerMinute / 4
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors:  make(map[string]*rate.Limiter),
		perSecond: rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:     burst,
	}
}

// Middleware rejects clients that exceed their budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientID(r)) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(id string) bool {
	l.mu.Lock()
	limiter, ok := l.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.visitors[id] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Authenticator validates bearer tokens for scope-gated methods. With no
// secret configured every request is treated as anonymous.
type Authenticator struct {
	secret    []byte
	clockSkew time.Duration
	logger    *slog.Logger
}

// NewAuthenticator builds an HMAC JWT verifier. An empty secret disables
// authentication.
func NewAuthenticator(secret string, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		clockSkew: 2 * time.Minute,
		logger:    logger,
	}
}

// Middleware parses an optional bearer token and stores its scopes in the
// context. Invalid tokens are rejected outright; method-level scope checks
// happen in the dispatcher.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" || len(a.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		scopes, err := a.verify(token)
		if err != nil {
			a.logger.Warn("rejected bearer token", "err", err, "request_id", requestIDFrom(r.Context()))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyScopes, scopes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) verify(tokenString string) ([]string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.clockSkew),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return nil, err
	}
	raw, _ := claims["scope"].(string)
	return strings.Fields(raw), nil
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func hasScope(ctx context.Context, want string) bool {
	scopes, _ := ctx.Value(contextKeyScopes).([]string)
	for _, scope := range scopes {
		if scope == want {
			return true
		}
	}
	return false
}

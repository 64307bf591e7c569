package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"github.com/robertarktes/ticket-marketplace/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

type ctxKey int

const (
	principalKey ctxKey = iota
	loggerKey
)

func WithPrincipal(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, principalKey, id)
}

// PrincipalFrom returns the authenticated user for the request, if any.
func PrincipalFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(principalKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func LoggerFrom(ctx context.Context, fallback observability.Logger) observability.Logger {
	if l, ok := ctx.Value(loggerKey).(observability.Logger); ok {
		return l
	}
	return fallback
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))

			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Debug("request served")
		})
	}
}

// MetricsMiddleware counts requests by route pattern so path parameters do not
// explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// PrincipalMiddleware resolves the calling user. With a public key configured it
// verifies an RS256 bearer token and takes the subject claim; otherwise it trusts the
// X-User-ID header set by the gateway. Requests without credentials continue
// anonymously and handlers that need a user reject them.
func PrincipalMiddleware(publicKeyPEM string) (func(next http.Handler) http.Handler, error) {
	var key *rsa.PublicKey
	if publicKeyPEM != "" {
		k, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicKeyPEM))
		if err != nil {
			return nil, err
		}
		key = k
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw string
			if key != nil {
				auth := r.Header.Get("Authorization")
				if auth == "" {
					next.ServeHTTP(w, r)
					return
				}
				token, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
					return key, nil
				})
				if err != nil {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				raw, _ = token.Claims.GetSubject()
			} else {
				raw = r.Header.Get("X-User-ID")
				if raw == "" {
					next.ServeHTTP(w, r)
					return
				}
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid principal", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), id)))
		})
	}, nil
}

// IdempotencyMiddleware validates the Idempotency-Key header on mutating routes.
func IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			http.Error(w, "missing Idempotency-Key", http.StatusBadRequest)
			return
		}
		if len(key) < 16 || len(key) > 128 {
			http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PaymentSignatureHeader carries hex(HMAC-SHA256(secret, body)), optionally prefixed
// with "sha256=".
const PaymentSignatureHeader = "X-Payment-Signature"

const maxCallbackBody = 64 << 10

// PaymentSignatureMiddleware admits only requests signed by the payment processor with
// the shared webhook secret. Without a secret the route is unavailable.
func PaymentSignatureMiddleware(secret string, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				LoggerFrom(r.Context(), logger).Warn("payment callback received but no webhook secret is configured")
				http.Error(w, "payment callback not configured", http.StatusServiceUnavailable)
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
			if err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			got, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(PaymentSignatureHeader), "sha256="))
			if err != nil || len(got) == 0 || !hmac.Equal(got, SignPayment(secret, body)) {
				observability.PaymentCallbacksRejected.Inc()
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// SignPayment computes the callback signature for body.
func SignPayment(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func RateLimitMiddleware(rl *rateLimit.RateLimiter, perUser, perIP int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			allowed := rl.Allow(r.Context(), "ip:"+ip, perIP, time.Minute)
			if user, ok := PrincipalFrom(r.Context()); ok && allowed {
				allowed = rl.Allow(r.Context(), "user:"+user.String(), perUser, time.Minute)
			}
			if !allowed {
				observability.RateLimitExceeded.Inc()
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, rate limiting, or adding context to a request.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: For validating operator bearer tokens.
 * - internal/app: For the distributed rate limiter.
 */

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuz/ledger-service/internal/app"
	"github.com/golang-jwt/jwt/v5"
)

// OperatorContextKey is a custom type for the context key to avoid collisions.
type OperatorContextKey string

const operatorSubjectKey OperatorContextKey = "operatorSubject"

// OperatorAuthConfig holds the HS256 validation settings for operator tokens.
type OperatorAuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// OperatorAuthMiddleware validates HS256 bearer tokens and stores the subject in the
// request context. Without a secret every request is rejected.
func OperatorAuthMiddleware(cfg OperatorAuthConfig) func(http.Handler) http.Handler {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	if len(secret) == 0 {
		log.Printf("level=error component=api msg=\"AUTH_JWT_SECRET is not configured; operator routes will reject all requests\"")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secret) == 0 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication is not configured"})
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization header required"})
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid Authorization header format"})
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": fmt.Sprintf("Invalid token: %v", err)})
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Subject not found in token"})
				return
			}

			ctx := context.WithValue(r.Context(), operatorSubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOperatorSubject retrieves the authenticated operator's subject from the request context.
func GetOperatorSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(operatorSubjectKey).(string)
	return subject, ok
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	requiredKey = strings.TrimSpace(requiredKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiredKey == "" {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Internal API is not configured"})
				return
			}

			provided := strings.TrimSpace(r.Header.Get("X-Internal-API-Key"))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware spends one unit of the operator's budget for scope per request.
// A nil limiter disables it; limiter errors let the request through.
func RateLimitMiddleware(limiter app.RateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := GetOperatorSubject(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), scope, subject)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s subject=%s err=%v", scope, subject, err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				log.Printf("level=info component=api msg=\"mutation budget exhausted\" scope=%s subject=%s limit=%d", scope, subject, decision.Limit)
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:     "Too many requests. Please try again later.",
					Kind:      "rate_limited",
					Retryable: true,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

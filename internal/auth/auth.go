// Package auth guards the API with HS256 bearer tokens signed with
// JWT_SECRET. The token subject identifies the calling service or user and is
// carried in the request context for logging.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
)

// Issuer is set on tokens issued by this service
const Issuer = "personalization-sync"

type Auth struct {
	secret []byte
	now    func() time.Time
}

// New creates an Auth signing and verifying with secret
func New(secret string) *Auth {
	return &Auth{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// IssueToken signs a token for subject valid for ttl
func (a *Auth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.ValidationError("subject is required")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm and expiry and returns the claims
func (a *Auth) ValidateToken(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, errors.ValidationError("invalid bearer token").WithContext("reason", err.Error())
	}
	if claims.Subject == "" {
		return nil, errors.ValidationError("bearer token has no subject")
	}
	return claims, nil
}

func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			unauthorized(w)
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			logging.Debug("Rejected API token", logging.Field{Key: "error", Value: err.Error()})
			unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), logging.SubjectKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, or ""
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(logging.SubjectKey).(string)
	return subject
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required"})
}

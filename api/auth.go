package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/warp/compliance-engine/ledger"
)

// =============================================================================
// TOKENS
// =============================================================================

// TokenVerifier checks HS256 bearer tokens minted by the identity service.
// The subject is the user ID and the "role" claim is its ledger role.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Verify parses a token and returns the actor it was issued to.
func (v *TokenVerifier) Verify(token string) (ledger.Reviewer, error) {
	if token == "" {
		return ledger.Reviewer{}, fmt.Errorf("token is empty")
	}

	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return ledger.Reviewer{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return ledger.Reviewer{}, fmt.Errorf("invalid token claims")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return ledger.Reviewer{}, fmt.Errorf("invalid subject: %w", err)
	}
	role := ledger.Role(claims.Role)
	if !role.Valid() {
		return ledger.Reviewer{}, fmt.Errorf("invalid role %q", claims.Role)
	}
	return ledger.Reviewer{ID: claims.Subject, Role: role}, nil
}

// Sign mints a token for actor. The server never issues tokens itself;
// this is used by tests and the seed tooling.
func (v *TokenVerifier) Sign(actor ledger.Reviewer, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.ID
	claims.Issuer = v.issuer
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{RegisteredClaims: claims, Role: string(actor.Role)})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

type verifier interface {
	Verify(token string) (ledger.Reviewer, error)
}

// Authenticate rejects requests without a valid bearer token and stores
// the caller in the request context.
func Authenticate(v verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := v.Verify(bearerToken(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// actorFrom returns the authenticated caller. Routes behind Authenticate
// always have one.
func actorFrom(ctx context.Context) ledger.Reviewer {
	a, _ := ctx.Value(actorKey{}).(ledger.Reviewer)
	return a
}

// creatorOf maps the caller to the creator recorded on a request.
func creatorOf(a ledger.Reviewer) ledger.Creator {
	if a.Role == ledger.RoleAdmin {
		return ledger.Creator{Type: ledger.CreatorAdmin, ID: a.ID}
	}
	return ledger.Creator{Type: ledger.CreatorUser, ID: a.ID}
}

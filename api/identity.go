package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// IDENTITY - Bearer token to leave.Actor
// =============================================================================

var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Claims are the token claims the API understands. Subject is the user id.
type Claims struct {
	Role         string `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HMAC-signed tokens and issues them on registration.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for actor valid for ttl.
func (a *Authenticator) Issue(actor leave.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role:         string(actor.Role),
		DepartmentID: actor.DepartmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns the actor it names.
func (a *Authenticator) Parse(token string) (leave.Actor, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return leave.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	role := leave.Role(claims.Role)
	if claims.Subject == "" || !role.Valid() {
		return leave.Actor{}, fmt.Errorf("%w: incomplete claims", ErrUnauthenticated)
	}
	return leave.Actor{ID: claims.Subject, Role: role, DepartmentID: claims.DepartmentID}, nil
}

type actorKey struct{}

func WithActor(ctx context.Context, actor leave.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (leave.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(leave.Actor)
	return actor, ok
}

// Authenticate attaches the caller to the request context. Requests without
// an Authorization header pass through anonymous; a malformed or invalid
// token is rejected.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthenticated.Error(), nil)
			return
		}
		actor, err := a.Parse(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthenticated.Error(), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireActor rejects anonymous requests.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, ErrUnauthenticated.Error(), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

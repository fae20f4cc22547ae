package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

func fixedAuth(secret, issuer string, now time.Time) *Authenticator {
	a := NewAuthenticator(secret, issuer)
	a.now = func() time.Time { return now }
	return a
}

func TestAuthenticator_IssueAndParse(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	auth := fixedAuth("secret", "leave-engine", now)
	actor := leave.Actor{ID: "emp-1", Role: leave.RoleEmployee, DepartmentID: "dept-1"}

	token, err := auth.Issue(actor, time.Hour)
	require.NoError(t, err)

	parsed, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, parsed)
}

func TestAuthenticator_Rejects(t *testing.T) {
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	auth := fixedAuth("secret", "leave-engine", now)
	actor := leave.Actor{ID: "emp-1", Role: leave.RoleEmployee}

	sign := func(claims Claims, method jwt.SigningMethod, key any) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return token
	}
	valid := func(mod func(*Claims)) Claims {
		c := Claims{
			Role: string(leave.RoleEmployee),
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "emp-1",
				Issuer:    "leave-engine",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		mod(&c)
		return c
	}

	expired, err := fixedAuth("secret", "leave-engine", now.Add(-2*time.Hour)).Issue(actor, time.Hour)
	require.NoError(t, err)
	otherSecret, err := fixedAuth("other", "leave-engine", now).Issue(actor, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong secret", otherSecret},
		{"wrong issuer", sign(valid(func(c *Claims) { c.Issuer = "elsewhere" }), jwt.SigningMethodHS256, []byte("secret"))},
		{"unknown role", sign(valid(func(c *Claims) { c.Role = "ADMIN" }), jwt.SigningMethodHS256, []byte("secret"))},
		{"missing subject", sign(valid(func(c *Claims) { c.Subject = "" }), jwt.SigningMethodHS256, []byte("secret"))},
		{"other algorithm", sign(valid(func(*Claims) {}), jwt.SigningMethodHS512, []byte("secret"))},
		{"unsigned", sign(valid(func(*Claims) {}), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Parse(tt.token)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}
}

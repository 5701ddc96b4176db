package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/pkg/types"
)

const testSecret = "0123456789abcdef-test-secret"

func newTestTokens(t *testing.T) *TokenService {
	t.Helper()
	s, err := NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)
	return s
}

func TestNewTokenService_RejectsShortSecret(t *testing.T) {
	_, err := NewTokenService("short", time.Hour)
	assert.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	s := newTestTokens(t)
	p := types.Principal{ID: "user-123", Role: types.RoleArchitect}

	token, err := s.Issue(p)
	require.NoError(t, err)

	got, err := s.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTokenService_IssueRejectsInvalidPrincipal(t *testing.T) {
	s := newTestTokens(t)
	_, err := s.Issue(types.Principal{ID: "x", Role: "superuser"})
	assert.Error(t, err)
}

func TestTokenService_RejectsExpired(t *testing.T) {
	s := newTestTokens(t)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := s.Issue(types.Principal{ID: "u", Role: types.RoleViewer})
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsForeignSecret(t *testing.T) {
	other, err := NewTokenService("another-secret-of-enough-length", time.Hour)
	require.NoError(t, err)
	token, err := other.Issue(types.Principal{ID: "u", Role: types.RoleAdmin})
	require.NoError(t, err)

	_, err = newTestTokens(t).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RejectsUnknownRoleAndAlgorithm(t *testing.T) {
	s := newTestTokens(t)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u",
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "root",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = s.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims.Role = types.RoleAdmin
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Validate(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = s.Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{header: "bearer   abc ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic dXNlcjpwYXNz", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/chat-service/internal/types"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestTokenVerifier_Verify(t *testing.T) {
	v := NewTokenVerifier(testSigningKey)

	credential := signToken(t, testSigningKey, jwt.MapClaims{
		"sub":  "pat-1",
		"name": "Pat",
		"role": types.RolePatient,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	principal, err := v.Verify(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, types.Principal{SubjectId: "pat-1", DisplayName: "Pat", Role: types.RolePatient}, principal)
}

func TestTokenVerifier_rejects(t *testing.T) {
	v := NewTokenVerifier(testSigningKey)

	tt := []struct {
		name       string
		credential string
	}{
		{
			name:       "empty credential",
			credential: "",
		},
		{
			name:       "garbage credential",
			credential: "not.a.token",
		},
		{
			name: "wrong signing key",
			credential: signToken(t, []byte("another-key-another-key-another!"), jwt.MapClaims{
				"sub": "pat-1", "role": types.RolePatient,
			}),
		},
		{
			name: "expired token",
			credential: signToken(t, testSigningKey, jwt.MapClaims{
				"sub": "pat-1", "role": types.RolePatient, "exp": time.Now().Add(-time.Hour).Unix(),
			}),
		},
		{
			name: "missing subject",
			credential: signToken(t, testSigningKey, jwt.MapClaims{
				"role": types.RolePatient,
			}),
		},
		{
			name: "missing role",
			credential: signToken(t, testSigningKey, jwt.MapClaims{
				"sub": "pat-1",
			}),
		},
		{
			name: "unknown role",
			credential: signToken(t, testSigningKey, jwt.MapClaims{
				"sub": "adm-1", "role": "admin",
			}),
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.credential)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestTokenVerifier_rejectsUnsignedToken(t *testing.T) {
	v := NewTokenVerifier(testSigningKey)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "pat-1", "role": types.RolePatient,
	})
	credential, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), credential)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

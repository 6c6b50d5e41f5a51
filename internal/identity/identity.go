package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/careline/chat-service/internal/types"
)

// ErrUnauthenticated is returned for any credential the verifier cannot
// positively validate. Verification fails closed.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier validates an opaque bearer credential and yields the principal
// it was issued to.
type Verifier interface {
	Verify(ctx context.Context, credential string) (types.Principal, error)
}

const (
	subjectClaim     = "sub"
	displayNameClaim = "name"
	roleClaim        = "role"
)

// TokenVerifier validates HMAC-signed tokens issued by the auth service.
// The signing key is shared platform-wide.
type TokenVerifier struct {
	signingKey []byte
}

func NewTokenVerifier(signingKey []byte) *TokenVerifier {
	return &TokenVerifier{signingKey: signingKey}
}

func (v *TokenVerifier) Verify(_ context.Context, credential string) (types.Principal, error) {
	if credential == "" {
		return types.Principal{}, ErrUnauthenticated
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return types.Principal{}, fmt.Errorf("%w: parse token: %v", ErrUnauthenticated, err)
	}

	if !token.Valid {
		return types.Principal{}, ErrUnauthenticated
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Principal{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}

	subject, ok := claims[subjectClaim].(string)
	if !ok || subject == "" {
		return types.Principal{}, fmt.Errorf("%w: missing subject claim", ErrUnauthenticated)
	}

	displayName, _ := claims[displayNameClaim].(string)

	role, ok := claims[roleClaim].(string)
	if !ok || (role != types.RolePatient && role != types.RoleDoctor) {
		return types.Principal{}, fmt.Errorf("%w: invalid role claim", ErrUnauthenticated)
	}

	return types.Principal{
		SubjectId:   subject,
		DisplayName: displayName,
		Role:        role,
	}, nil
}

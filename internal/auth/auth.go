package auth

import (
	"crypto/rsa"
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bandroomhq/settlement/internal"
)

// Claims is the subset of the identity service's token the engine trusts.
// The subject claim carries the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks RS256 tokens minted by the external identity service. The
// engine never issues tokens; it only verifies and extracts the actor.
type Verifier struct {
	publicKey *rsa.PublicKey
}

func NewVerifier(publicKey *rsa.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey}
}

// VerifyToken parses and validates the token, returning the actor user ID.
func (v *Verifier) VerifyToken(tokenString string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.publicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, internal.ErrTokenExpired
		}
		return 0, internal.ErrInvalidToken
	}
	if !token.Valid {
		return 0, internal.ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, internal.ErrInvalidToken
	}
	return userID, nil
}

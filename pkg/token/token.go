package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken token 解析失敗或 claims 不合法
var ErrInvalidToken = errors.New("invalid token")

// Claims identity carried by tokens issued by the external auth service
type Claims struct {
	Identity string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier HMAC token verifier; issuing lives outside the relay except for tests and tooling
type Verifier struct {
	secret []byte
}

// NewVerifier create a Verifier for the shared secret
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Issue sign a token for identity valid for ttl
func (v *Verifier) Issue(identity, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse parses a JWT and extracts the Claims
func (v *Verifier) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

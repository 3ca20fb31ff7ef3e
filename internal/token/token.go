// Package token signs and verifies unsubscribe link tokens. Each token is
// scoped to one campaign and one recipient so a forged or altered link
// cannot opt out anyone else. Tokens are stored hashed.
package token

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidToken = errors.New("invalid unsubscribe token")

// Signer issues and verifies HS256 unsubscribe tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer from the configured secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Issue returns a signed token for one campaign/recipient pair.
// Unsubscribe links do not expire.
func (s *Signer) Issue(campaignID, email string) (string, error) {
	claims := jwt.MapClaims{
		"sub": email,
		"cid": campaignID,
		"iat": time.Now().Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and returns the campaign id and
// recipient email it was issued for.
func (s *Signer) Verify(tokenString string) (campaignID, email string, err error) {
	tok, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid {
		return "", "", ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}

	campaignID, _ = claims["cid"].(string)
	email, _ = claims["sub"].(string)
	if campaignID == "" || email == "" {
		return "", "", ErrInvalidToken
	}
	return campaignID, email, nil
}

// Hash returns the hex SHA3-256 of a token, for at-rest storage and lookup.
func Hash(tokenString string) string {
	hasher := sha3.New256()
	hasher.Write([]byte(tokenString))
	return hex.EncodeToString(hasher.Sum(nil))
}

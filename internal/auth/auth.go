package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified principal behind a connection. It is produced by
// the external identity service and immutable for the life of a connection.
type Identity struct {
	ID    string
	Name  string
	Guest bool
}

// Verifier resolves bearer tokens minted by the identity service into
// identities. Tokens are HS256-signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

type claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Guest  bool   `json:"guest,omitempty"`
	jwt.RegisteredClaims
}

func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if c.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	name := c.Name
	if name == "" {
		name = "Player"
	}
	return Identity{ID: c.UserID, Name: name, Guest: c.Guest}, nil
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/food-dispatch/internal/models"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the bearer-token payload: the subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Gate verifies bearer credentials and resolves them to an actor identity.
type Gate struct {
	secret []byte
}

func NewGate(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// IssueToken mints an HS256 token for an actor. Used by the login surface
// and by tests.
func (g *Gate) IssueToken(actorID string, role models.Role, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Verify parses a token string and returns the actor identity it carries.
func (g *Gate) Verify(tokenString string) (actorID string, role models.Role, err error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", ErrInvalidToken
	}
	r := models.Role(claims.Role)
	if claims.Subject == "" || !r.IsValid() {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, r, nil
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(header string) (string, error) {
	if header == "" {
		return "", ErrInvalidToken
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return "", ErrInvalidToken
	}
	return token, nil
}

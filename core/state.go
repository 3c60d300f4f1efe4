package core

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidState = errors.New("invalid state")
	ErrExpiredState = errors.New("state expired")
)

type stateClaims struct {
	Flow Flow `json:"flow"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies the state parameter of the code flow.
// The signing key lives only in process memory.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewStateSigner(ttl time.Duration) (*StateSigner, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate state key: %w", err)
	}
	return &StateSigner{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue signs a state carrying the attempt nonce.
func (s *StateSigner) Issue(nonce string, flow Flow) (string, error) {
	now := s.now()
	claims := &stateClaims{
		Flow: flow,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify returns the nonce carried by a state issued by this signer.
func (s *StateSigner) Verify(state string) (string, error) {
	token, err := jwt.ParseWithClaims(state, &stateClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidState
		}
		return s.key, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredState
		}
		return "", ErrInvalidState
	}

	claims, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid || claims.ID == "" {
		return "", ErrInvalidState
	}
	return claims.ID, nil
}

// Package session issues and validates the signed identities that own carts:
// anonymous session tokens kept in a cookie and customer bearer tokens.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	kindSession  = "session"
	kindCustomer = "customer"
	issuer       = "storefront"
)

type claims struct {
	jwt.RegisteredClaims
	Kind string `json:"kind"`
}

type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// TTL is the lifetime of issued tokens; the cookie uses the same value.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue creates a new anonymous session id and its signed token.
func (s *Service) Issue() (token, sessionID string, err error) {
	sessionID = uuid.NewString()
	token, err = s.sign(kindSession, sessionID)
	if err != nil {
		return "", "", err
	}
	return token, sessionID, nil
}

// Lookup returns the session id carried by an anonymous session token.
func (s *Service) Lookup(token string) (string, error) {
	return s.parse(kindSession, token)
}

// IssueCustomer signs a bearer token for an authenticated customer.
func (s *Service) IssueCustomer(customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", errors.New("customer id required")
	}
	return s.sign(kindCustomer, customerID)
}

// LookupCustomer returns the customer id carried by a bearer token.
func (s *Service) LookupCustomer(token string) (string, error) {
	return s.parse(kindCustomer, token)
}

func (s *Service) sign(kind, subject string) (string, error) {
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Kind: kind,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (s *Service) parse(kind, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrInvalidToken
	}
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if c.Kind != kind || strings.TrimSpace(c.Subject) == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleCoordinator = "coordinator"
	RoleAdmin       = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated user a token is issued for.
type Principal struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role"`
}

type Claims struct {
	ID        string `json:"jti"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	NotBefore int64  `json:"nbf"`
	ExpiresAt int64  `json:"exp"`
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

func (c Claims) Principal() Principal {
	return Principal{Subject: c.Subject, Email: c.Email, Name: c.Name, Role: c.Role}
}

type JWTManager struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
	nowFunc    func() time.Time
}

func NewJWTManager(secret, issuer, audience string, ttl time.Duration) (*JWTManager, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTManager{
		signingKey: []byte(secret),
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		nowFunc:    time.Now,
	}, nil
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// IssueToken signs an HS256 token for p and returns it with its expiry.
func (m *JWTManager) IssueToken(p Principal) (string, time.Time, error) {
	if p.Subject == "" {
		return "", time.Time{}, errors.New("principal subject required")
	}
	if p.Role == "" {
		p.Role = RoleCoordinator
	}
	now := m.nowFunc()
	expires := now.Add(m.ttl)
	claims := Claims{
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		Subject:   p.Subject,
		Audience:  m.audience,
		IssuedAt:  now.Unix(),
		NotBefore: now.Unix(),
		ExpiresAt: expires.Unix(),
		Role:      p.Role,
		Email:     p.Email,
		Name:      p.Name,
	}

	headerSegment, err := encodeSegment(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", time.Time{}, err
	}
	payloadSegment, err := encodeSegment(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	signature := signSegments(m.signingKey, headerSegment, payloadSegment)
	return strings.Join([]string{headerSegment, payloadSegment, signature}, "."), expires, nil
}

// ValidateToken verifies signature, issuer, audience and validity window.
// Every failure wraps ErrInvalidToken.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, invalid("malformed token")
	}

	var header tokenHeader
	if err := decodeSegment(parts[0], &header); err != nil || header.Algorithm != "HS256" {
		return nil, invalid("unsupported token header")
	}
	expectedSig := signSegments(m.signingKey, parts[0], parts[1])
	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return nil, invalid("signature mismatch")
	}

	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return nil, invalid("undecodable claims")
	}

	now := m.nowFunc().Unix()
	switch {
	case claims.Issuer != m.issuer:
		return nil, invalid("issuer mismatch")
	case claims.Audience != m.audience:
		return nil, invalid("audience mismatch")
	case now < claims.NotBefore:
		return nil, invalid("token not yet valid")
	case now > claims.ExpiresAt:
		return nil, invalid("token expired")
	case claims.Subject == "":
		return nil, invalid("subject missing")
	}
	return &claims, nil
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidToken, reason)
}

func encodeSegment(v interface{}) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func decodeSegment(segment string, dst interface{}) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func signSegments(secret []byte, header, payload string) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(header))
	h.Write([]byte("."))
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

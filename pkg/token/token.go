// Package token signs and verifies the approval tokens that carry a
// multi-party activation request between requester and reviewer. Tokens are
// compact RS256 JWTs signed by the application's cloud-managed service
// account; no request state is kept server-side.
package token

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
)

// KeySet abstracts the signing identity: producing a signed compact JWT and
// resolving verification keys from the token header.
type KeySet interface {
	// ServiceAccount returns the email of the signing identity, used as
	// both issuer and audience.
	ServiceAccount() string
	// Sign produces a signed compact JWT for claims.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc resolves the verification key for a parsed token header.
	KeyFunc() jwt.Keyfunc
}

// Claims is the flat payload of an approval token.
type Claims struct {
	jwt.RegisteredClaims
	Beneficiary   string   `json:"beneficiary"`
	Reviewers     []string `json:"reviewers"`
	Resource      string   `json:"resource"`
	Role          string   `json:"role"`
	Justification string   `json:"justification"`
	Start         int64    `json:"start"`
	End           int64    `json:"end"`
}

// Service signs and verifies approval tokens.
type Service struct {
	keys   KeySet
	expiry time.Duration
	clock  func() time.Time
}

// NewService creates a token service. expiry bounds how long an issued
// token remains approvable, independently of the requested activation end.
func NewService(keys KeySet, expiry time.Duration) *Service {
	return &Service{keys: keys, expiry: expiry, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Sign issues a compact JWT for claims, setting issuer, audience, issuance
// and expiry. The activation id must already be present as the JWT id.
func (s *Service) Sign(ctx context.Context, claims *Claims) (string, error) {
	if claims.ID == "" {
		return "", apperr.New(apperr.InvalidArgument, "token claims must carry an activation id")
	}
	now := s.clock().UTC()
	account := s.keys.ServiceAccount()

	claims.Issuer = account
	claims.Audience = jwt.ClaimStrings{account}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))

	signed, err := s.keys.Sign(ctx, claims)
	if err != nil {
		return "", apperr.Wrap(apperr.Unavailable, err, "signing the approval token failed")
	}
	return signed, nil
}

// Verify checks signature, issuer, audience, and expiry, and decodes the
// claims. Every failure collapses into AccessDenied so the error surface
// cannot be used as an oracle.
func (s *Service) Verify(ctx context.Context, compact string) (*Claims, error) {
	_ = ctx
	account := s.keys.ServiceAccount()

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(compact, claims, s.keys.KeyFunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(account),
		jwt.WithAudience(account),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil || !token.Valid {
		return nil, apperr.New(apperr.AccessDenied, "the approval token is invalid or has expired")
	}
	return claims, nil
}

// Obfuscate converts a compact JWT into its URL-borne form. The transform
// is a reversible URL-safe encoding: defense in depth only, authorization
// always requires the reviewer's authenticated identity plus a live
// eligibility check.
func Obfuscate(compact string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(compact))
}

// Deobfuscate reverses Obfuscate.
func Deobfuscate(obfuscated string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", apperr.New(apperr.AccessDenied, "the approval token is malformed")
	}
	return string(raw), nil
}

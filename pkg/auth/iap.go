package auth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/Mindburn-Labs/jitaccess/pkg/apperr"
	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

const (
	iapAssertionHeader = "x-goog-iap-jwt-assertion"
	iapJWKSURL         = "https://www.gstatic.com/iap/verify/public_key-jwks"
	iapIssuer          = "https://cloud.google.com/iap"
)

// iapClaims is the subset of the IAP assertion the service consumes.
type iapClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// IAPVerifier verifies Identity-Aware Proxy assertions against Google's
// published signing keys.
type IAPVerifier struct {
	audience string
	jwksURL  string
	cache    *jwk.Cache
	clock    func() time.Time
}

// NewIAPVerifier creates a verifier for the deployment's IAP audience
// (/projects/NUMBER/global/backendServices/ID). ctx bounds the background
// JWKS refresh.
func NewIAPVerifier(ctx context.Context, audience string) (*IAPVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(iapJWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register IAP JWKS endpoint: %w", err)
	}
	return &IAPVerifier{
		audience: audience,
		jwksURL:  iapJWKSURL,
		cache:    cache,
		clock:    time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (v *IAPVerifier) WithClock(clock func() time.Time) *IAPVerifier {
	v.clock = clock
	return v
}

// Verify checks the assertion and returns the asserted user.
func (v *IAPVerifier) Verify(assertion string) (resources.UserEmail, error) {
	claims := &iapClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, v.keyFunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(iapIssuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil || !token.Valid {
		return resources.UserEmail{}, apperr.New(apperr.Unauthenticated, "the identity assertion is invalid")
	}
	user, err := resources.NewUserEmail(claims.Email)
	if err != nil {
		return resources.UserEmail{}, apperr.New(apperr.Unauthenticated, "the identity assertion names no valid user")
	}
	return user, nil
}

func (v *IAPVerifier) keyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("assertion header carries no kid")
		}
		set, err := v.cache.Get(context.Background(), v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("fetch IAP JWKS: %w", err)
		}
		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %s not present in IAP JWKS", kid)
		}
		var pub ecdsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("decode IAP JWKS key %s: %w", kid, err)
		}
		return &pub, nil
	}
}

// AssertionVerifier is what the middleware needs from a verifier. Tests and
// development deployments substitute their own.
type AssertionVerifier interface {
	Verify(assertion string) (resources.UserEmail, error)
}

// HeaderPrincipal trusts the x-goog-authenticated-user-email header without
// verification. Only for development behind a trusted proxy.
type HeaderPrincipal struct{}

// Verify implements AssertionVerifier on the pre-parsed header value
// (accounts.google.com:user@example.com).
func (HeaderPrincipal) Verify(assertion string) (resources.UserEmail, error) {
	const prefix = "accounts.google.com:"
	if len(assertion) > len(prefix) && assertion[:len(prefix)] == prefix {
		assertion = assertion[len(prefix):]
	}
	user, err := resources.NewUserEmail(assertion)
	if err != nil {
		return resources.UserEmail{}, apperr.New(apperr.Unauthenticated, "no authenticated user header")
	}
	return user, nil
}

// Middleware authenticates every request through verifier and stores the
// principal in the context. onError renders the failure; the middleware
// itself stays transport-format agnostic.
func Middleware(verifier AssertionVerifier, header string, onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	if header == "" {
		header = iapAssertionHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assertion := r.Header.Get(header)
			if assertion == "" {
				onError(w, r, apperr.New(apperr.Unauthenticated, "the request carries no identity assertion"))
				return
			}
			user, err := verifier.Verify(assertion)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user)))
		})
	}
}

package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// CloudSigner is the external "sign a JWT as this service account"
// capability (the IAM credentials API).
type CloudSigner interface {
	// ServiceAccount returns the signing identity's email.
	ServiceAccount() string
	// SignJWT signs the JSON payload and returns a compact JWT.
	SignJWT(ctx context.Context, payload []byte) (string, error)
}

// jwksURLFormat is the well-known JWKS endpoint keyed by service-account
// email.
const jwksURLFormat = "https://www.googleapis.com/service_accounts/v1/jwk/%s"

// ServiceAccountKeySet signs through the cloud signer and verifies against
// the service account's published JWKS, cached and refreshed by jwk.Cache.
type ServiceAccountKeySet struct {
	signer  CloudSigner
	jwksURL string
	cache   *jwk.Cache
}

// NewServiceAccountKeySet creates a KeySet for signer. ctx bounds the
// lifetime of the background JWKS refresh.
func NewServiceAccountKeySet(ctx context.Context, signer CloudSigner) (*ServiceAccountKeySet, error) {
	url := fmt.Sprintf(jwksURLFormat, signer.ServiceAccount())
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register JWKS endpoint: %w", err)
	}
	return &ServiceAccountKeySet{signer: signer, jwksURL: url, cache: cache}, nil
}

// ServiceAccount returns the signing identity's email.
func (k *ServiceAccountKeySet) ServiceAccount() string { return k.signer.ServiceAccount() }

// Sign serializes claims and delegates to the cloud signer, which selects
// the key and algorithm (RS256) itself.
func (k *ServiceAccountKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	return k.signer.SignJWT(ctx, payload)
}

// KeyFunc resolves the RSA public key named by the token's kid header from
// the cached JWKS.
func (k *ServiceAccountKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("token header carries no kid")
		}
		set, err := k.cache.Get(context.Background(), k.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("fetch JWKS: %w", err)
		}
		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %s not present in JWKS", kid)
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("decode JWKS key %s: %w", kid, err)
		}
		return &pub, nil
	}
}

// LocalKeySet signs with a locally generated RSA key. Used in tests and for
// development deployments without a cloud signing identity.
type LocalKeySet struct {
	account string
	kid     string
	key     *rsa.PrivateKey
}

// NewLocalKeySet generates a fresh 2048-bit RSA key.
func NewLocalKeySet(account string) (*LocalKeySet, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &LocalKeySet{account: account, kid: "local-1", key: key}, nil
}

// ServiceAccount returns the configured identity email.
func (k *LocalKeySet) ServiceAccount() string { return k.account }

// Sign produces an RS256 compact JWT.
func (k *LocalKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	_ = ctx
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid
	return token.SignedString(k.key)
}

// KeyFunc returns the local public key for matching kids.
func (k *LocalKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if kid, _ := token.Header["kid"].(string); kid != k.kid {
			return nil, fmt.Errorf("unknown kid %v", token.Header["kid"])
		}
		return &k.key.PublicKey, nil
	}
}

package authprovider

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when an identity token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// IdentityClaims holds JWT claims for an identity token.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// JWTProvider is a Provider fed by bearer identity tokens (RS256 or ES256).
// SetToken verifies a token and establishes the identity; SignOut clears it.
type JWTProvider struct {
	publicKey crypto.PublicKey
	issuer    string
	audience  string

	mu       sync.Mutex
	identity *Identity
}

// NewJWTProvider returns a provider verifying tokens against the given public
// key, issuer, and audience.
func NewJWTProvider(publicKey crypto.PublicKey, issuer, audience string) *JWTProvider {
	return &JWTProvider{publicKey: publicKey, issuer: issuer, audience: audience}
}

// SetToken verifies tokenString (signature, exp, iss, aud) and stores the
// resulting identity. Returns ErrInvalidToken on any validation failure.
func (p *JWTProvider) SetToken(tokenString string) error {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			return p.publicKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	})
	if err != nil {
		return ErrInvalidToken
	}
	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return ErrInvalidToken
	}
	if claims.Issuer != p.issuer {
		return ErrInvalidToken
	}
	audOk := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOk = true
			break
		}
	}
	if !audOk {
		return ErrInvalidToken
	}
	p.mu.Lock()
	p.identity = &Identity{ID: claims.Subject, Email: claims.Email}
	p.mu.Unlock()
	return nil
}

// CurrentIdentity returns the verified identity, or nil when signed out.
func (p *JWTProvider) CurrentIdentity() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return nil
	}
	id := *p.identity
	return &id
}

// SignOut discards the identity. Never fails for this provider.
func (p *JWTProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.identity = nil
	p.mu.Unlock()
	return nil
}

// IssueIdentityToken signs an identity token for the given identity, valid for
// ttl. Used by hosts (and tests) that mint their own tokens; signing method is
// RS256 or ES256 depending on the key.
func IssueIdentityToken(privateKey crypto.Signer, issuer, audience string, identity Identity, ttl time.Duration) (string, error) {
	var method jwt.SigningMethod
	switch privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	now := time.Now().UTC()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: identity.Email,
	}
	return jwt.NewWithClaims(method, claims).SignedString(privateKey)
}

// LoadPEM reads content from path if s does not look like inline PEM; otherwise returns s as bytes.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

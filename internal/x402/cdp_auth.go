package x402

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CDPAuth signs short-lived bearer tokens for the Coinbase facilitator.
type CDPAuth struct {
	keyID  string
	key    any
	method jwt.SigningMethod
	now    func() time.Time
}

var _ AuthProvider = (*CDPAuth)(nil)

// NewCDPAuth parses a CDP API secret. PEM-encoded EC keys sign with ES256;
// base64 Ed25519 keys (seed or full private key) sign with EdDSA.
func NewCDPAuth(keyID, secret string) (*CDPAuth, error) {
	if keyID == "" || secret == "" {
		return nil, errors.New("x402: CDP key id and secret are required")
	}

	a := &CDPAuth{keyID: keyID, now: time.Now}

	if block, _ := pem.Decode([]byte(strings.ReplaceAll(secret, `\n`, "\n"))); block != nil {
		key, err := parseECKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		a.key, a.method = key, jwt.SigningMethodES256
		return a, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secret))
	if err != nil {
		return nil, fmt.Errorf("x402: CDP secret is neither PEM nor base64: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		a.key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		a.key = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("x402: unexpected Ed25519 key length %d", len(raw))
	}
	a.method = jwt.SigningMethodEdDSA
	return a, nil
}

func parseECKey(der []byte) (*ecdsa.PrivateKey, error) {
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("x402: parse CDP EC key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("x402: CDP PEM key is not an EC key")
	}
	return key, nil
}

// AuthHeaders returns an Authorization header scoped to method and url.
func (a *CDPAuth) AuthHeaders(_ context.Context, method, rawURL string) (map[string]string, error) {
	token, err := a.Token(method, rawURL)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + token}, nil
}

// Token builds a signed JWT valid for two minutes.
func (a *CDPAuth) Token(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("x402: parse facilitator url: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("x402: generate nonce: %w", err)
	}

	now := a.now()
	claims := jwt.MapClaims{
		"iss":  "cdp",
		"sub":  a.keyID,
		"nbf":  now.Unix(),
		"exp":  now.Add(2 * time.Minute).Unix(),
		"uris": []string{fmt.Sprintf("%s %s%s", strings.ToUpper(method), u.Host, u.Path)},
	}

	token := jwt.NewWithClaims(a.method, claims)
	token.Header["kid"] = a.keyID
	token.Header["nonce"] = hex.EncodeToString(nonce)

	signed, err := token.SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("x402: sign CDP token: %w", err)
	}
	return signed, nil
}

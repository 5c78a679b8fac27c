// Package signing turns JSON claim-sets into compact signed tokens.
package signing

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSigning is returned when a payload cannot be signed.
var ErrSigning = errors.New("sign payload")

// TokenType is the JOSE "typ" header set on every token.
const TokenType = "secevent+jwt"

// Config contains signer settings.
type Config struct {
	Algorithm     string // HS256, RS256 or PS256
	SecretKey     string // HS256 only
	PrivateKeyPEM []byte // RS256 and PS256
	KeyID         string
}

// Signer signs claim-sets with a single configured key.
type Signer struct {
	method jwt.SigningMethod
	key    any
	keyID  string
}

// NewSigner creates a signer for the configured algorithm.
func NewSigner(cfg Config) (*Signer, error) {
	s := &Signer{keyID: cfg.KeyID}

	switch cfg.Algorithm {
	case "", "HS256":
		if cfg.SecretKey == "" {
			return nil, fmt.Errorf("%w: secret key is empty", ErrSigning)
		}
		s.method = jwt.SigningMethodHS256
		s.key = []byte(cfg.SecretKey)
	case "RS256", "PS256":
		key, err := parsePrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		s.method = jwt.GetSigningMethod(cfg.Algorithm)
		s.key = key
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrSigning, cfg.Algorithm)
	}

	return s, nil
}

// NewSignerFromFile reads the private key from path and creates a signer.
// The path is ignored for HS256.
func NewSignerFromFile(cfg Config, path string) (*Signer, error) {
	if cfg.Algorithm != "" && cfg.Algorithm != "HS256" {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		cfg.PrivateKeyPEM = pem
	}
	return NewSigner(cfg)
}

// Algorithm returns the JOSE algorithm name.
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// Sign signs a JSON object and returns the compact token.
func (s *Signer) Sign(payload []byte) (string, error) {
	var claims jwt.MapClaims
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&claims); err != nil {
		return "", fmt.Errorf("%w: decode claim-set: %w", ErrSigning, err)
	}
	if claims == nil {
		return "", fmt.Errorf("%w: claim-set is not an object", ErrSigning)
	}

	token := jwt.NewWithClaims(s.method, claims)
	token.Header["typ"] = TokenType
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return signed, nil
}

func parsePrivateKey(pem []byte) (*rsa.PrivateKey, error) {
	if len(pem) == 0 {
		return nil, fmt.Errorf("%w: private key is empty", ErrSigning)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrSigning, err)
	}
	return key, nil
}

package tokens

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-jose/go-jose/v4"
)

func GenerateSigningKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	return key, nil
}

func LoadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in %s", ErrSigningKey, path)
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected an EC key, got %T", ErrSigningKey, parsed)
	}
	return key, nil
}

func WriteSigningKey(
	path string,
	key *ecdsa.PrivateKey,
) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}
	return nil
}

// LoadOrCreateSigningKey loads the key at path, generating and saving a new
// one when the file does not exist yet.
func LoadOrCreateSigningKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := LoadSigningKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = GenerateSigningKey()
	if err != nil {
		return nil, err
	}
	if err := WriteSigningKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DeriveKeyID is the RFC 7638 thumbprint of the public key.
func DeriveKeyID(key *ecdsa.PrivateKey) (string, error) {
	jwk := jose.JSONWebKey{Key: key.Public()}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("%w: failed to compute thumbprint: %v", ErrSigningKey, err)
	}
	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

func DeriveAlgorithm(key *ecdsa.PrivateKey) (string, error) {
	switch key.Curve {
	case elliptic.P256():
		return "ES256", nil
	default:
		return "", fmt.Errorf("%w: unsupported curve %s", ErrSigningKey, key.Curve.Params().Name)
	}
}

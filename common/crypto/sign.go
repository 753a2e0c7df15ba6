package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// ErrUnsupportedKeyType is returned when a PEM block decodes to a key type
// neither RSA nor ECDSA.
var ErrUnsupportedKeyType = fmt.Errorf("unsupported private key type")

// LoadPrivateKeyFile reads and parses a PEM-encoded RSA or EC private key
// from path. It accepts PKCS#1, PKCS#8, and SEC1 (EC) encodings, the same
// set OpenSSL and most IdPs emit for oauth2 private_key_jwt and Google
// service-account client assertions (spec §4.B).
func LoadPrivateKeyFile(path string) (crypto.Signer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return ParsePrivateKeyPEM(raw)
}

// ParsePrivateKeyPEM parses a PEM block containing an RSA or EC private key.
func ParsePrivateKeyPEM(raw []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in key data")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, ErrUnsupportedKeyType
	}
}

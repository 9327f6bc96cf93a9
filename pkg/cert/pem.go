package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// PEM encoding/decoding errors.
var (
	ErrInvalidPEM      = errors.New("invalid PEM data")
	ErrInvalidKey      = errors.New("invalid private key")
	ErrUnsupportedKey  = errors.New("unsupported private key type")
	ErrInvalidCert     = errors.New("invalid certificate")
	ErrKeyTooSmall     = errors.New("key size too small")
	ErrKeyMismatch     = errors.New("private key does not match certificate")
	ErrMissingIdentity = errors.New("certificate has no subject or SAN")
)

// PEM block types.
const (
	pemTypeCertificate = "CERTIFICATE"
	pemTypePKCS8       = "PRIVATE KEY"
	pemTypeRSA         = "RSA PRIVATE KEY"
	pemTypeEC          = "EC PRIVATE KEY"
)

// EncodeCertPEM encodes an X.509 certificate to PEM format.
func EncodeCertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypeCertificate,
		Bytes: cert.Raw,
	})
}

// DecodeCertPEM decodes the first PEM-encoded X.509 certificate in data.
func DecodeCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeCertificate {
		return nil, ErrInvalidPEM
	}
	return x509.ParseCertificate(block.Bytes)
}

// EncodeKeyPEM encodes an RSA or ECDSA private key as a PKCS#8 PEM block.
func EncodeKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	switch key.(type) {
	case *rsa.PrivateKey, *ecdsa.PrivateKey:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePKCS8,
		Bytes: der,
	}), nil
}

// DecodeKeyPEM decodes a PEM-encoded private key. PKCS#8, PKCS#1 (RSA) and
// SEC 1 (EC) blocks are accepted.
func DecodeKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case pemTypePKCS8:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case pemTypeRSA:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case pemTypeEC:
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: PEM type %q", ErrInvalidPEM, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	return signer, nil
}

// WriteCertFile writes a certificate to a PEM file.
func WriteCertFile(path string, cert *x509.Certificate) error {
	return os.WriteFile(path, EncodeCertPEM(cert), 0644)
}

// ReadCertFile reads a certificate from a PEM file.
func ReadCertFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCertPEM(data)
}

// WriteKeyFile writes a private key to a PEM file with restricted permissions.
func WriteKeyFile(path string, key crypto.PrivateKey) error {
	data, err := EncodeKeyPEM(key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadKeyFile reads a private key from a PEM file.
func ReadKeyFile(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeKeyPEM(data)
}

package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Certificate validity periods.
const (
	// SelfSignedValidity is the validity of generated self-signed server
	// certificates.
	SelfSignedValidity = 365 * 24 * time.Hour // 1 year

	// ClockSkew backdates NotBefore so peers with slightly slow clocks
	// accept a freshly generated certificate.
	ClockSkew = 5 * time.Minute
)

// RSA key sizes.
const (
	// MinRSABits is the smallest RSA key GenerateRSAKey accepts.
	MinRSABits = 1024

	// DefaultRSABits is used when a caller passes 0.
	DefaultRSABits = 2048
)

// KeyPair holds an ECDSA P-256 key pair.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// TLSCertificate converts a parsed certificate and its key into a
// tls.Certificate with the leaf populated.
func TLSCertificate(cert *x509.Certificate, key crypto.PrivateKey) tls.Certificate {
	if cert == nil || key == nil {
		return tls.Certificate{}
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
}

// CertPool returns a pool containing certs, suitable for
// tls.Config.RootCAs or ClientCAs.
func CertPool(certs ...*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, c := range certs {
		if c != nil {
			pool.AddCert(c)
		}
	}
	return pool
}

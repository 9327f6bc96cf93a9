package cert

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
)

// VerifyServerCert verifies that cert is currently valid, chains to one of
// roots and (when dnsName is set) covers dnsName.
func VerifyServerCert(cert *x509.Certificate, roots *x509.CertPool, dnsName string) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if err := CheckValidity(cert, time.Now()); err != nil {
		return err
	}
	if roots == nil {
		return fmt.Errorf("%w: root pool required", ErrInvalidChain)
	}

	opts := x509.VerifyOptions{
		Roots:     roots,
		DNSName:   dnsName,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return nil
}

// CheckValidity checks cert's validity window against now.
func CheckValidity(cert *x509.Certificate, now time.Time) error {
	if cert == nil {
		return ErrInvalidCert
	}
	if now.Before(cert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrCertExpired
	}
	return nil
}

// CertificateInfo summarizes a certificate for operators.
type CertificateInfo struct {
	CommonName  string
	Issuer      string
	DNSNames    []string
	IPAddresses []string
	NotBefore   time.Time
	NotAfter    time.Time
	IsCA        bool
	SelfSigned  bool

	// KeyType is e.g. "ECDSA P-256" or "RSA 2048".
	KeyType string

	// Fingerprint is the SHA-256 digest of the DER encoding, as
	// colon-separated upper-case hex.
	Fingerprint string

	SKI []byte
}

// GetCertificateInfo returns a summary of cert, or nil for a nil cert.
func GetCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}

	ips := make([]string, 0, len(cert.IPAddresses))
	for _, ip := range cert.IPAddresses {
		ips = append(ips, ip.String())
	}

	return &CertificateInfo{
		CommonName:  cert.Subject.CommonName,
		Issuer:      cert.Issuer.CommonName,
		DNSNames:    cert.DNSNames,
		IPAddresses: ips,
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		IsCA:        cert.IsCA,
		SelfSigned:  isSelfSigned(cert),
		KeyType:     keyType(cert.PublicKey),
		Fingerprint: Fingerprint(cert),
		SKI:         cert.SubjectKeyId,
	}
}

// Fingerprint returns the SHA-256 fingerprint of cert in the
// colon-separated form browsers and openssl print.
func Fingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

func keyType(pub crypto.PublicKey) string {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA " + k.Curve.Params().Name
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA %d", k.N.BitLen())
	case ed25519.PublicKey:
		return "Ed25519"
	default:
		return fmt.Sprintf("%T", pub)
	}
}

func isSelfSigned(cert *x509.Certificate) bool {
	if !bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return false
	}
	return cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) == nil
}

package cert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// GenerateKeyPair generates an ECDSA P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ECDSA key: %w", err)
	}
	return &KeyPair{PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// GenerateRSAKey generates an RSA key of the given size. A size of 0 selects
// DefaultRSABits.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultRSABits
	}
	if bits < MinRSABits {
		return nil, fmt.Errorf("%w: %d bits (minimum %d)", ErrKeyTooSmall, bits, MinRSABits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	return key, nil
}

// ComputeSKI computes a Subject Key Identifier: the SHA-1 hash of the
// DER-encoded public key (RFC 5280 method 1, over the full SPKI).
func ComputeSKI(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha1.Sum(der)
	return sum[:], nil
}

// GenerateSelfSigned creates a self-signed certificate for key. hosts are
// added as DNS or IP SANs; with no hosts, commonName is used. The result may
// also act as an issuer for Resign.
func GenerateSelfSigned(commonName string, key crypto.Signer, hosts ...string) (*x509.Certificate, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	if len(hosts) == 0 && commonName != "" {
		hosts = []string{commonName}
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	ski, err := ComputeSKI(key.Public())
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             now.Add(-ClockSkew),
		NotAfter:              now.Add(SelfSignedValidity),
		KeyUsage:              keyUsageFor(key) | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		SubjectKeyId:          ski,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// Resign creates a certificate that mirrors remote's identity (subject,
// SANs, validity and key usages) but certifies key's public half. The
// serial is always fresh, so an issuer-signed result never shares an
// issuer and serial pair with remote.
//
// With a nil issuer the result is self-signed by key. Otherwise it is signed
// by issuerKey and chains to issuer. Either way it is only trusted by peers
// that trust the signing key; it never chains to remote's CA. The result is
// always a leaf (IsCA is false) and carries none of remote's other
// extensions.
func Resign(remote *x509.Certificate, key crypto.Signer, issuer *x509.Certificate, issuerKey crypto.Signer) (*x509.Certificate, error) {
	if remote == nil {
		return nil, ErrInvalidCert
	}
	if key == nil {
		return nil, ErrInvalidKey
	}
	if !hasIdentity(remote) {
		return nil, ErrMissingIdentity
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}
	ski, err := ComputeSKI(key.Public())
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		RawSubject:            remote.RawSubject,
		Subject:               remote.Subject,
		NotBefore:             remote.NotBefore,
		NotAfter:              remote.NotAfter,
		DNSNames:              remote.DNSNames,
		IPAddresses:           remote.IPAddresses,
		URIs:                  remote.URIs,
		EmailAddresses:        remote.EmailAddresses,
		KeyUsage:              (remote.KeyUsage | keyUsageFor(key)) &^ (x509.KeyUsageCertSign | x509.KeyUsageCRLSign),
		ExtKeyUsage:           remote.ExtKeyUsage,
		BasicConstraintsValid: true,
		IsCA:                  false,
		SubjectKeyId:          ski,
	}

	parent, signer := template, key
	if issuer != nil {
		if issuerKey == nil {
			return nil, fmt.Errorf("%w: issuer key required", ErrInvalidKey)
		}
		if err := VerifyKeyPair(issuer, issuerKey); err != nil {
			return nil, fmt.Errorf("issuer: %w", err)
		}
		parent, signer = issuer, issuerKey
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// VerifyKeyPair reports whether key is the private half of cert's public key.
func VerifyKeyPair(cert *x509.Certificate, key crypto.PrivateKey) error {
	if cert == nil {
		return ErrInvalidCert
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("%w: %T does not implement crypto.Signer", ErrUnsupportedKey, key)
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

func keyUsageFor(key crypto.Signer) x509.KeyUsage {
	usage := x509.KeyUsageDigitalSignature
	if _, ok := key.Public().(*rsa.PublicKey); ok {
		usage |= x509.KeyUsageKeyEncipherment
	}
	return usage
}

func hasIdentity(c *x509.Certificate) bool {
	if len(c.Subject.Names) > 0 || c.Subject.CommonName != "" {
		return true
	}
	return len(c.DNSNames) > 0 || len(c.IPAddresses) > 0 ||
		len(c.URIs) > 0 || len(c.EmailAddresses) > 0
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	// Zero is not a valid serial.
	return serial.Add(serial, big.NewInt(1)), nil
}

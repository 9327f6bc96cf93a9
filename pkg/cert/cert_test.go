package cert

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	if kp.PrivateKey == nil {
		t.Error("PrivateKey should not be nil")
	}
	if kp.PublicKey == nil {
		t.Error("PublicKey should not be nil")
	}

	if kp.PrivateKey.Curve.Params().Name != "P-256" {
		t.Errorf("Expected P-256 curve, got %s", kp.PrivateKey.Curve.Params().Name)
	}
}

func TestGenerateRSAKey(t *testing.T) {
	t.Run("Size", func(t *testing.T) {
		key, err := GenerateRSAKey(1024)
		require.NoError(t, err)
		assert.Equal(t, 1024, key.N.BitLen())
	})

	t.Run("TooSmall", func(t *testing.T) {
		_, err := GenerateRSAKey(512)
		assert.ErrorIs(t, err, ErrKeyTooSmall)
	})
}

func TestComputeSKI(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	ski, err := ComputeSKI(kp.PublicKey)
	require.NoError(t, err)

	// SKI should be 20 bytes (160 bits)
	assert.Len(t, ski, 20)

	ski2, _ := ComputeSKI(kp.PublicKey)
	assert.Equal(t, ski, ski2, "same key should produce same SKI")

	kp2, _ := GenerateKeyPair()
	ski3, _ := ComputeSKI(kp2.PublicKey)
	assert.NotEqual(t, ski, ski3, "different keys should produce different SKIs")
}

func TestGenerateSelfSigned(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	c, err := GenerateSelfSigned("media.example.com", kp.PrivateKey, "media.example.com", "127.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "media.example.com", c.Subject.CommonName)
	assert.Equal(t, []string{"media.example.com"}, c.DNSNames)
	require.Len(t, c.IPAddresses, 1)
	assert.True(t, c.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.True(t, c.IsCA)
	require.NoError(t, VerifyKeyPair(c, kp.PrivateKey))

	// Trusting the certificate itself is enough.
	require.NoError(t, VerifyServerCert(c, CertPool(c), "media.example.com"))

	info := GetCertificateInfo(c)
	assert.True(t, info.SelfSigned)
	assert.Equal(t, "media.example.com", info.Issuer)
	assert.Equal(t, []string{"127.0.0.1"}, info.IPAddresses)
	assert.Equal(t, "ECDSA P-256", info.KeyType)
	assert.Len(t, info.Fingerprint, 32*3-1)
	assert.Equal(t, Fingerprint(c), info.Fingerprint)
}

func TestCertificateInfoRSA(t *testing.T) {
	key, err := GenerateRSAKey(2048)
	require.NoError(t, err)
	c, err := GenerateSelfSigned("rsa.example.com", key)
	require.NoError(t, err)

	info := GetCertificateInfo(c)
	assert.Equal(t, "RSA 2048", info.KeyType)
	assert.Empty(t, info.IPAddresses)
	assert.Nil(t, GetCertificateInfo(nil))
	assert.Empty(t, Fingerprint(nil))
}

func TestGenerateSelfSignedDefaultsHostToCommonName(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	c, err := GenerateSelfSigned("edge-1", kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge-1"}, c.DNSNames)
}

// upstreamCert builds a certificate issued by a throwaway CA, standing in for
// a real origin server certificate.
func upstreamCert(t *testing.T) (*x509.Certificate, *x509.Certificate) {
	t.Helper()

	caKey, err := GenerateKeyPair()
	require.NoError(t, err)
	ca, err := GenerateSelfSigned("Upstream Root", caKey.PrivateKey)
	require.NoError(t, err)

	leafKey, err := GenerateKeyPair()
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(4242),
		Subject: pkix.Name{
			CommonName:   "origin.example.com",
			Organization: []string{"Origin Media"},
		},
		DNSNames:    []string{"origin.example.com", "cdn.example.com"},
		IPAddresses: []net.IP{net.ParseIP("10.1.2.3")},
		NotBefore:   time.Now().Add(-time.Hour).Truncate(time.Second),
		NotAfter:    time.Now().Add(48 * time.Hour).Truncate(time.Second),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca, leafKey.PublicKey, caKey.PrivateKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return leaf, ca
}

func TestResignSelfSigned(t *testing.T) {
	remote, remoteCA := upstreamCert(t)

	key, err := GenerateRSAKey(2048)
	require.NoError(t, err)

	resigned, err := Resign(remote, key, nil, nil)
	require.NoError(t, err)

	// Identity is mirrored.
	assert.Equal(t, remote.Subject.String(), resigned.Subject.String())
	assert.Equal(t, remote.DNSNames, resigned.DNSNames)
	require.Len(t, resigned.IPAddresses, 1)
	assert.True(t, resigned.IPAddresses[0].Equal(remote.IPAddresses[0]))
	assert.True(t, remote.NotBefore.Equal(resigned.NotBefore))
	assert.True(t, remote.NotAfter.Equal(resigned.NotAfter))
	assert.NotEqual(t, 0, remote.SerialNumber.Cmp(resigned.SerialNumber), "serial must be fresh")
	assert.Positive(t, resigned.SerialNumber.Sign())
	assert.Equal(t, remote.ExtKeyUsage, resigned.ExtKeyUsage)
	assert.False(t, resigned.IsCA)

	// Key is ours and it is signed by us.
	pub, ok := resigned.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(&key.PublicKey))
	assert.True(t, GetCertificateInfo(resigned).SelfSigned)

	// It does not chain to the upstream CA.
	assert.ErrorIs(t, VerifyServerCert(resigned, CertPool(remoteCA), "origin.example.com"), ErrInvalidChain)

	// Trusting the resigned certificate works.
	assert.NoError(t, VerifyServerCert(resigned, CertPool(resigned), "cdn.example.com"))
}

func TestResignWithIssuer(t *testing.T) {
	remote, _ := upstreamCert(t)

	issuerKey, err := GenerateKeyPair()
	require.NoError(t, err)
	issuer, err := GenerateSelfSigned("Relay Inspection CA", issuerKey.PrivateKey)
	require.NoError(t, err)

	leafKey, err := GenerateKeyPair()
	require.NoError(t, err)

	resigned, err := Resign(remote, leafKey.PrivateKey, issuer, issuerKey.PrivateKey)
	require.NoError(t, err)

	pub, ok := resigned.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(leafKey.PublicKey))
	assert.Equal(t, "Relay Inspection CA", resigned.Issuer.CommonName)
	assert.NotEqual(t, 0, remote.SerialNumber.Cmp(resigned.SerialNumber))
	assert.NoError(t, VerifyServerCert(resigned, CertPool(issuer), "origin.example.com"))
}

func TestResignErrors(t *testing.T) {
	remote, _ := upstreamCert(t)
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)
	issuer, err := GenerateSelfSigned("CA", kp.PrivateKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"NilRemote", func() error { _, err := Resign(nil, kp.PrivateKey, nil, nil); return err }, ErrInvalidCert},
		{"NilKey", func() error { _, err := Resign(remote, nil, nil, nil); return err }, ErrInvalidKey},
		{"NoIdentity", func() error { _, err := Resign(&x509.Certificate{}, kp.PrivateKey, nil, nil); return err }, ErrMissingIdentity},
		{"MissingIssuerKey", func() error { _, err := Resign(remote, kp.PrivateKey, issuer, nil); return err }, ErrInvalidKey},
		{"WrongIssuerKey", func() error { _, err := Resign(remote, kp.PrivateKey, issuer, other.PrivateKey); return err }, ErrKeyMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestPEMRoundTripFiles(t *testing.T) {
	dir := t.TempDir()

	rsaKey, err := GenerateRSAKey(1024)
	require.NoError(t, err)
	c, err := GenerateSelfSigned("localhost", rsaKey)
	require.NoError(t, err)

	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, WriteCertFile(certPath, c))
	require.NoError(t, WriteKeyFile(keyPath, rsaKey))

	gotCert, err := ReadCertFile(certPath)
	require.NoError(t, err)
	assert.Equal(t, c.Raw, gotCert.Raw)

	gotKey, err := ReadKeyFile(keyPath)
	require.NoError(t, err)
	assert.NoError(t, VerifyKeyPair(gotCert, gotKey))
}

func TestDecodeKeyPEMLegacyBlocks(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(kp.PrivateKey)
	require.NoError(t, err)

	block := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	key, err := DecodeKeyPEM(block)
	require.NoError(t, err)
	assert.True(t, kp.PrivateKey.Equal(key))

	_, err = DecodeKeyPEM([]byte("not pem"))
	assert.ErrorIs(t, err, ErrInvalidPEM)

	_, err = DecodeCertPEM(block)
	assert.ErrorIs(t, err, ErrInvalidPEM)
}

func TestCheckValidity(t *testing.T) {
	now := time.Now()
	c := &x509.Certificate{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)}

	assert.NoError(t, CheckValidity(c, now))
	assert.ErrorIs(t, CheckValidity(c, now.Add(-2*time.Hour)), ErrCertNotYetValid)
	assert.ErrorIs(t, CheckValidity(c, now.Add(2*time.Hour)), ErrCertExpired)
	assert.ErrorIs(t, CheckValidity(nil, now), ErrInvalidCert)
}

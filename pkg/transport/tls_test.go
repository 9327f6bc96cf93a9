package transport

import (
	"bytes"
	"context"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/log"
)

// testIdentity is a self-signed server identity for "localhost".
type testIdentity struct {
	cert *x509.Certificate
	key  crypto.Signer
}

func newTestIdentity(t *testing.T, cn string) testIdentity {
	t.Helper()
	kp, err := cert.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	c, err := cert.GenerateSelfSigned(cn, kp.PrivateKey)
	if err != nil {
		t.Fatalf("GenerateSelfSigned failed: %v", err)
	}
	return testIdentity{cert: c, key: kp.PrivateKey}
}

type recordingLogger struct {
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.events = append(r.events, e)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// handshakePair runs both handshakes concurrently and returns their errors.
func handshakePair(ctx context.Context, server func(context.Context) error, client func(context.Context) error) (serverErr, clientErr error) {
	done := make(chan error, 1)
	go func() {
		done <- server(ctx)
	}()
	clientErr = client(ctx)
	serverErr = <-done
	return serverErr, clientErr
}

func TestNewServerTLSConfig(t *testing.T) {
	id := newTestIdentity(t, "localhost")

	tlsConfig, err := NewServerTLSConfig(&TLSConfig{
		Certificate: cert.TLSCertificate(id.cert, id.key),
		NextProtos:  []string{"rtmp"},
	})
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	if tlsConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", tlsConfig.MinVersion)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(tlsConfig.Certificates))
	}
	if tlsConfig.ClientAuth != tls.NoClientCert {
		t.Errorf("ClientAuth = %v, want NoClientCert", tlsConfig.ClientAuth)
	}
	if len(tlsConfig.NextProtos) != 1 || tlsConfig.NextProtos[0] != "rtmp" {
		t.Errorf("NextProtos = %v", tlsConfig.NextProtos)
	}
}

func TestNewServerTLSConfigNoCert(t *testing.T) {
	if _, err := NewServerTLSConfig(&TLSConfig{}); err == nil {
		t.Error("expected error without certificate")
	}
	if _, err := NewServerTLSConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestNewServerTLSConfigClientAuth(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	pool := cert.CertPool(id.cert)

	tlsConfig, err := NewServerTLSConfig(&TLSConfig{
		Certificate:       cert.TLSCertificate(id.cert, id.key),
		RequireClientCert: true,
		ClientCAs:         pool,
	})
	if err != nil {
		t.Fatalf("NewServerTLSConfig failed: %v", err)
	}
	if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", tlsConfig.ClientAuth)
	}
	if tlsConfig.ClientCAs != pool {
		t.Error("ClientCAs not propagated")
	}
}

func TestNewClientTLSConfig(t *testing.T) {
	pool := x509.NewCertPool()
	tlsConfig, err := NewClientTLSConfig(&TLSConfig{
		RootCAs:    pool,
		ServerName: "media.example.com",
	})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if tlsConfig.ServerName != "media.example.com" {
		t.Errorf("ServerName = %q", tlsConfig.ServerName)
	}
	if tlsConfig.RootCAs != pool {
		t.Error("RootCAs not propagated")
	}
	if len(tlsConfig.Certificates) != 0 {
		t.Error("client certificate set without one configured")
	}
	if tlsConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify should default to false")
	}
}

func TestTLSHandshakeSelfSigned(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)
	events := &recordingLogger{}

	server := NewTLSServerConn(serverT)
	server.SetLogger(events, "conn-1")
	client := NewTLSClientConn(clientT, &TLSConfig{RootCAs: cert.CertPool(id.cert)})
	if err := client.SetServerName("localhost"); err != nil {
		t.Fatalf("SetServerName failed: %v", err)
	}

	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}

	// SNI reaches the server.
	if got := server.ConnectionState().ServerName; got != "localhost" {
		t.Errorf("server saw SNI %q, want localhost", got)
	}
	if peer := client.PeerCertificate(); peer == nil || !peer.Equal(id.cert) {
		t.Error("client did not receive the server certificate")
	}

	// Application data both ways.
	go client.Write([]byte("publish"))
	buf := make([]byte, 7)
	if _, err := server.ReadFully(buf); err != nil {
		t.Fatalf("server ReadFully: %v", err)
	}
	if string(buf) != "publish" {
		t.Errorf("server got %q", buf)
	}

	go server.Writev([][]byte{[]byte("ok "), []byte("go")})
	buf = make([]byte, 5)
	if _, err := client.ReadFully(buf); err != nil {
		t.Fatalf("client ReadFully: %v", err)
	}
	if string(buf) != "ok go" {
		t.Errorf("client got %q", buf)
	}

	// Byte counters see ciphertext, so they exceed the payload.
	if server.RecvBytes() <= 7 || client.SendBytes() <= 7 {
		t.Errorf("counters too small: recv=%d send=%d", server.RecvBytes(), client.SendBytes())
	}

	if len(events.events) != 1 {
		t.Fatalf("events = %d, want 1", len(events.events))
	}
	hs := events.events[0].Handshake
	if hs == nil || !hs.Succeeded() || hs.Role != log.RoleServer || hs.ServerName != "localhost" {
		t.Errorf("unexpected handshake event: %+v", hs)
	}
	if events.events[0].ResourceID != "conn-1" {
		t.Errorf("ResourceID = %q", events.events[0].ResourceID)
	}
}

func TestTLSHandshakeUntrusted(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)

	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    x509.NewCertPool(),
		ServerName: "localhost",
	})

	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
		client.Handshake,
	)
	if !errors.Is(clientErr, ErrHandshake) {
		t.Errorf("client err = %v, want ErrHandshake", clientErr)
	}
	if !errors.Is(serverErr, ErrHandshake) {
		t.Errorf("server err = %v, want ErrHandshake", serverErr)
	}

	// A failed wrapper is not reusable.
	err := client.Handshake(context.Background())
	if !errors.Is(err, ErrHandshakeAttempted) || !errors.Is(err, ErrHandshake) {
		t.Errorf("second handshake = %v, want ErrHandshakeAttempted", err)
	}
	if _, err := client.Write([]byte("x")); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("write after failed handshake = %v, want ErrNotEstablished", err)
	}
}

func TestTLSServerHandshakeFromFiles(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := cert.WriteCertFile(certFile, id.cert); err != nil {
		t.Fatal(err)
	}
	if err := cert.WriteKeyFile(keyFile, id.key); err != nil {
		t.Fatal(err)
	}

	clientT, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    cert.CertPool(id.cert),
		ServerName: "localhost",
	})

	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.Handshake(ctx, keyFile, certFile) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}
}

func TestTLSServerHandshakeMissingFiles(t *testing.T) {
	_, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)

	err := server.Handshake(context.Background(), "/nonexistent/key.pem", "/nonexistent/cert.pem")
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("err = %v, want ErrHandshake", err)
	}
}

func TestTLSServerHandshakeKeyMismatch(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	other := newTestIdentity(t, "other")
	_, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)

	err := server.HandshakeWithCert(context.Background(), id.cert, other.key)
	if !errors.Is(err, ErrHandshake) || !errors.Is(err, cert.ErrKeyMismatch) {
		t.Errorf("err = %v, want ErrHandshake wrapping ErrKeyMismatch", err)
	}
}

func TestTLSHandshakeContextCancelled(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	_, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)

	// No client ever speaks; cancelling must unblock the handshake.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := server.HandshakeWithCert(ctx, id.cert, id.key)
	if !errors.Is(err, ErrHandshake) {
		t.Errorf("err = %v, want ErrHandshake", err)
	}
}

func TestTLSSetServerNameAfterHandshake(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)

	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    cert.CertPool(id.cert),
		ServerName: "localhost",
	})
	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}

	if err := client.SetServerName("other"); !errors.Is(err, ErrHandshakeAttempted) {
		t.Errorf("SetServerName = %v, want ErrHandshakeAttempted", err)
	}
	if client.ServerName() != "localhost" {
		t.Errorf("ServerName = %q, want localhost", client.ServerName())
	}
}

func TestTLSReadBeforeHandshake(t *testing.T) {
	clientT, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, nil)

	if _, err := server.Read(make([]byte, 1)); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("server Read = %v, want ErrNotEstablished", err)
	}
	if _, err := client.ReadFully(make([]byte, 1)); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("client ReadFully = %v, want ErrNotEstablished", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("Close before handshake = %v, want nil", err)
	}
	if state := server.ConnectionState(); state.HandshakeComplete {
		t.Error("ConnectionState reports a completed handshake")
	}
}

func TestTLSTimeoutsProxyToTransport(t *testing.T) {
	_, serverT := socketPair(t)
	server := NewTLSServerConn(serverT)

	server.SetRecvTimeout(time.Second)
	server.SetSendTimeout(2 * time.Second)
	if serverT.RecvTimeout() != time.Second || serverT.SendTimeout() != 2*time.Second {
		t.Error("timeouts not applied to the wrapped transport")
	}
	if server.Transport() != ReadWriter(serverT) {
		t.Error("Transport does not return the wrapped stream")
	}
}

func TestTLSReadTimeoutKeepsSession(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)

	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    cert.CertPool(id.cert),
		ServerName: "localhost",
	})
	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}

	server.SetRecvTimeout(20 * time.Millisecond)
	if _, err := server.Read(make([]byte, 1)); !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}

	server.SetRecvTimeout(0)
	go client.Write([]byte("late"))
	buf := make([]byte, 4)
	if _, err := server.ReadFully(buf); err != nil {
		t.Fatalf("read after timeout: %v", err)
	}
	if string(buf) != "late" {
		t.Errorf("got %q", buf)
	}
}

func TestTLSServerCloseSendsCloseNotify(t *testing.T) {
	id := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)

	server := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    cert.CertPool(id.cert),
		ServerName: "localhost",
	})
	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}

	go server.Close()
	_, err := client.Read(make([]byte, 1))
	if !IsClosed(err) {
		t.Errorf("client Read = %v, want clean close", err)
	}

	// The borrowed transport is still open for its owner.
	if err := serverT.Close(); err != nil {
		t.Errorf("transport Close = %v, want nil", err)
	}
}

func TestTLSReadFullyShortIsIOError(t *testing.T) {
	tests := []struct {
		name string
		// peerIsClient makes the client the side that writes and closes.
		peerIsClient bool
	}{
		{name: "server reads", peerIsClient: true},
		{name: "client reads", peerIsClient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := newTestIdentity(t, "localhost")
			clientT, serverT := socketPair(t)

			server := NewTLSServerConn(serverT)
			client := NewTLSClientConn(clientT, &TLSConfig{
				RootCAs:    cert.CertPool(id.cert),
				ServerName: "localhost",
			})
			serverErr, clientErr := handshakePair(testContext(t),
				func(ctx context.Context) error { return server.HandshakeWithCert(ctx, id.cert, id.key) },
				client.Handshake,
			)
			if serverErr != nil || clientErr != nil {
				t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
			}

			var reader ReadWriter = client
			if tt.peerIsClient {
				reader = server
				go func() {
					client.Write([]byte("abc"))
					client.Close()
				}()
			} else {
				go func() {
					server.Write([]byte("abc"))
					server.Close()
					serverT.Close()
				}()
			}

			buf := make([]byte, 10)
			n, err := reader.ReadFully(buf)
			if n != 3 {
				t.Errorf("n = %d, want 3", n)
			}
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("err = %v, want io.ErrUnexpectedEOF", err)
			}
			if !errors.Is(err, ErrIO) {
				t.Errorf("err = %v, want ErrIO kind", err)
			}
			if IsClosed(err) {
				t.Error("a mid-read close must not look like a clean close")
			}
		})
	}
}

func TestPrepareResignedEndpoint(t *testing.T) {
	upstream := newTestIdentity(t, "localhost")
	clientT, serverT := socketPair(t)

	upstreamServer := NewTLSServerConn(serverT)
	client := NewTLSClientConn(clientT, &TLSConfig{
		RootCAs:    cert.CertPool(upstream.cert),
		ServerName: "localhost",
	})

	// Before the handshake there is nothing to mirror.
	if _, err := client.PrepareResignedEndpoint(nil, upstream.key); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("err = %v, want ErrNotEstablished", err)
	}

	serverErr, clientErr := handshakePair(testContext(t),
		func(ctx context.Context) error { return upstreamServer.HandshakeWithCert(ctx, upstream.cert, upstream.key) },
		client.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("handshake failed: server=%v client=%v", serverErr, clientErr)
	}

	key, err := client.GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	resigned, err := client.PrepareResignedEndpoint(nil, key)
	if err != nil {
		t.Fatalf("PrepareResignedEndpoint failed: %v", err)
	}

	leaf := resigned.Leaf
	if leaf == nil {
		t.Fatal("resigned certificate has no leaf")
	}
	if !bytes.Equal(leaf.RawSubject, upstream.cert.RawSubject) {
		t.Error("subject not mirrored")
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", leaf.DNSNames)
	}
	if leaf.IsCA {
		t.Error("resigned certificate must not be a CA")
	}
	if err := cert.VerifyKeyPair(leaf, key); err != nil {
		t.Errorf("resigned certificate does not carry the new key: %v", err)
	}

	// A downstream client that trusts the resigned certificate accepts it.
	downClientT, downServerT := socketPair(t)
	downServer := NewTLSServerConn(downServerT)
	downClient := NewTLSClientConn(downClientT, &TLSConfig{
		RootCAs:    cert.CertPool(leaf),
		ServerName: "localhost",
	})
	serverErr, clientErr = handshakePair(testContext(t),
		func(ctx context.Context) error { return downServer.HandshakeWithCert(ctx, leaf, key) },
		downClient.Handshake,
	)
	if serverErr != nil || clientErr != nil {
		t.Fatalf("downstream handshake failed: server=%v client=%v", serverErr, clientErr)
	}
}

package interactive

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/resource"
)

type session struct {
	id      string
	fastID  uint64
	name    string
	expired atomic.Bool
}

func (s *session) ID() string     { return s.id }
func (s *session) FastID() uint64 { return s.fastID }
func (s *session) Name() string   { return s.name }
func (s *session) Desc() string   { return fmt.Sprintf("session %s", s.id) }
func (s *session) Expire()        { s.expired.Store(true) }

func newTestConsole(t *testing.T) (*Console, *resource.Manager, *bytes.Buffer) {
	t.Helper()
	m := resource.NewManager(resource.ManagerConfig{Label: "console"})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { m.Stop() })

	out := &bytes.Buffer{}
	c := &Console{out: out}
	c.Attach(m, nil, nil)
	return c, m, out
}

func TestConsoleList(t *testing.T) {
	c, m, out := newTestConsole(t)

	c.exec("list")
	assert.Contains(t, out.String(), "No connections.")

	m.Add(&session{id: "a1", fastID: 7, name: "10.0.0.1:5000"})
	out.Reset()
	c.exec("ls")
	assert.Contains(t, out.String(), "FAST ID")
	assert.Contains(t, out.String(), "a1")
}

func TestConsoleKick(t *testing.T) {
	c, m, out := newTestConsole(t)

	byID := &session{id: "a1", fastID: 1, name: "10.0.0.1:5000"}
	byFast := &session{id: "b2", fastID: 42, name: "10.0.0.2:5000"}
	byName := &session{id: "c3", fastID: 3, name: "10.0.0.3:5000"}
	for _, s := range []*session{byID, byFast, byName} {
		require.False(t, m.Add(s))
	}

	c.exec("kick a1")
	c.exec("kick 42")
	c.exec("kick 10.0.0.3:5000")
	assert.True(t, byID.expired.Load())
	assert.True(t, byFast.expired.Load())
	assert.True(t, byName.expired.Load())
	assert.Contains(t, out.String(), "Expired session b2")

	out.Reset()
	c.exec("kick nope")
	assert.Contains(t, out.String(), `No connection "nope"`)

	out.Reset()
	c.exec("kick")
	assert.Contains(t, out.String(), "Usage: kick")
}

func TestConsoleStats(t *testing.T) {
	c, m, out := newTestConsole(t)
	m.Add(&session{id: "a1"})

	c.exec("stats")
	assert.Contains(t, out.String(), `Manager "console"`)
	assert.Contains(t, out.String(), "active:         1")
}

func TestConsoleCert(t *testing.T) {
	c, _, out := newTestConsole(t)
	c.exec("cert")
	assert.Contains(t, out.String(), "TLS is disabled.")

	kp, err := cert.GenerateKeyPair()
	require.NoError(t, err)
	c.cert, err = cert.GenerateSelfSigned("media.local", kp.PrivateKey)
	require.NoError(t, err)

	out.Reset()
	c.exec("cert")
	assert.Contains(t, out.String(), "Subject:     media.local")
	assert.Contains(t, out.String(), "Self-signed: true")
	assert.Contains(t, out.String(), "Key:         ECDSA P-256")
	assert.Contains(t, out.String(), "SHA-256:     "+cert.Fingerprint(c.cert))
	assert.NotContains(t, out.String(), "WARNING")
}

func TestConsoleQuitAndUnknown(t *testing.T) {
	c, _, out := newTestConsole(t)

	assert.False(t, c.exec(""))
	assert.False(t, c.exec("frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")
	assert.True(t, c.exec("quit"))
	assert.True(t, c.exec("Q"))
}

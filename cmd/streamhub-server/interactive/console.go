// Package interactive provides the admin console of streamhub-server.
package interactive

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/streamhub/streamhub-go/pkg/cert"
	"github.com/streamhub/streamhub-go/pkg/resource"
	"github.com/streamhub/streamhub-go/pkg/server"
)

// Console handles interactive mode for streamhub-server.
type Console struct {
	manager *resource.Manager
	srv     *server.Server
	cert    *x509.Certificate
	rl      *readline.Instance
	out     io.Writer

	closeOnce sync.Once
}

// New creates a console reading commands from the terminal. Call Attach
// before Run.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "streamhub> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Attach sets what the console inspects. serverCert may be nil when TLS is
// disabled.
func (c *Console) Attach(manager *resource.Manager, srv *server.Server, serverCert *x509.Certificate) {
	c.manager = manager
	c.srv = srv
	c.cert = serverCert
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop. It returns when the operator
// quits, calling cancel, or when ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.Close()

	// Readline blocks; closing it unblocks on shutdown.
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	c.printHelp()

	for ctx.Err() == nil {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(c.out, "Exiting...")
				cancel()
			}
			return
		}

		if c.exec(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Close restores the terminal. It is safe to call more than once.
func (c *Console) Close() {
	c.closeOnce.Do(func() {
		if c.rl != nil {
			c.rl.Close()
		}
	})
}

// exec runs one command line. It reports whether the operator asked to quit.
func (c *Console) exec(line string) (quit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		c.cmdList()
	case "kick", "k":
		c.cmdKick(args)
	case "stats", "s":
		c.cmdStats()
	case "cert":
		c.cmdCert()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
streamhub Commands:
  list               - List live connections
  kick <conn>        - Expire a connection (id, fast id or remote address)
  stats              - Show manager and server counters
  cert               - Show the server certificate
  help               - Show this help
  quit               - Shut down the server`)
}

func (c *Console) cmdList() {
	resources := c.manager.Resources()
	if len(resources) == 0 {
		fmt.Fprintln(c.out, "No connections.")
		return
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FAST ID\tID\tREMOTE\tTLS\tAGE\tRECV\tSENT")
	for _, r := range resources {
		conn, ok := r.(*server.Conn)
		if !ok {
			fmt.Fprintf(tw, "%d\t%s\t-\t-\t-\t-\t-\n", r.FastID(), r.ID())
			continue
		}
		_, isTLS := conn.TLS()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%d\t%d\n",
			conn.FastID(), conn.ID(), conn.RemoteAddr(), isTLS,
			time.Since(conn.Created()).Truncate(time.Second),
			conn.RecvBytes(), conn.SendBytes())
	}
	tw.Flush()
}

func (c *Console) cmdKick(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: kick <id|fast-id|remote-addr>")
		return
	}

	r, ok := c.lookup(args[0])
	if !ok {
		fmt.Fprintf(c.out, "No connection %q\n", args[0])
		return
	}
	if err := c.manager.Expire(r.ID()); err != nil {
		fmt.Fprintf(c.out, "Kick failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Expired %s\n", r.Desc())
}

// lookup resolves a connection by id, then fast id, then remote address.
func (c *Console) lookup(key string) (resource.Resource, bool) {
	if r, ok := c.manager.FindByID(key); ok {
		return r, true
	}
	if n, err := strconv.ParseUint(key, 10, 64); err == nil {
		if r, ok := c.manager.FindByFastID(n); ok {
			return r, true
		}
	}
	return c.manager.FindByName(key)
}

func (c *Console) cmdStats() {
	s := c.manager.Stats()
	fmt.Fprintf(c.out, "Manager %q:\n", s.Label)
	fmt.Fprintf(c.out, "  active:         %d\n", s.Active)
	fmt.Fprintf(c.out, "  zombies:        %d\n", s.Zombies)
	fmt.Fprintf(c.out, "  disposing:      %d\n", s.Disposing)
	fmt.Fprintf(c.out, "  handlers:       %d\n", s.Handlers)
	fmt.Fprintf(c.out, "  added:          %d\n", s.Added)
	fmt.Fprintf(c.out, "  removed:        %d\n", s.Removed)
	fmt.Fprintf(c.out, "  disposed:       %d\n", s.Disposed)
	fmt.Fprintf(c.out, "  dispose errors: %d\n", s.DisposeErrors)
	if c.srv != nil {
		fmt.Fprintf(c.out, "Server %s: %d serving\n", c.srv.Addr(), c.srv.ConnectionCount())
	}
}

func (c *Console) cmdCert() {
	if c.cert == nil {
		fmt.Fprintln(c.out, "TLS is disabled.")
		return
	}
	info := cert.GetCertificateInfo(c.cert)
	fmt.Fprintf(c.out, "Subject:     %s\n", info.CommonName)
	fmt.Fprintf(c.out, "Issuer:      %s\n", info.Issuer)
	fmt.Fprintf(c.out, "DNS names:   %s\n", strings.Join(info.DNSNames, ", "))
	if len(info.IPAddresses) > 0 {
		fmt.Fprintf(c.out, "IP SANs:     %s\n", strings.Join(info.IPAddresses, ", "))
	}
	fmt.Fprintf(c.out, "Key:         %s\n", info.KeyType)
	fmt.Fprintf(c.out, "Valid:       %s - %s\n", info.NotBefore.Format(time.RFC3339), info.NotAfter.Format(time.RFC3339))
	fmt.Fprintf(c.out, "Self-signed: %t\n", info.SelfSigned)
	fmt.Fprintf(c.out, "SHA-256:     %s\n", info.Fingerprint)
	if err := cert.CheckValidity(c.cert, time.Now()); err != nil {
		fmt.Fprintf(c.out, "WARNING:     %v\n", err)
	}
}

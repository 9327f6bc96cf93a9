// Package server is the accept loop on top of the connection core.
//
// A Server listens on TCP, wraps every accepted socket in a
// transport.TCPConn, optionally terminates TLS with a
// transport.TLSServerConn, and registers the resulting Conn with a
// resource.Manager. The Handler then runs on the connection's own
// goroutine. When it returns, or when the connection is expired (for
// example by an operator through Manager.Expire), the connection removes
// itself from the manager, which closes it on its disposal goroutine.
//
//	m := resource.NewManager(resource.ManagerConfig{Label: "echo"})
//	_ = m.Start(ctx)
//
//	srv, err := server.New(server.Config{
//	    Address: ":1935",
//	    Manager: m,
//	    Handler: server.HandlerFunc(func(ctx context.Context, c *server.Conn) error {
//	        buf := make([]byte, 4096)
//	        for {
//	            n, err := c.Read(buf)
//	            if err != nil {
//	                return err
//	            }
//	            if _, err := c.Write(buf[:n]); err != nil {
//	                return err
//	            }
//	        }
//	    }),
//	})
//	...
//	_ = srv.Start(ctx)
//	defer m.Stop()
//	defer srv.Stop()
package server

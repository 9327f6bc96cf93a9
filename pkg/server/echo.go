package server

import (
	"context"

	"github.com/streamhub/streamhub-go/pkg/transport"
)

// DefaultEchoBufferSize is the read buffer size of Echo.
const DefaultEchoBufferSize = 32 * 1024

// Echo returns a Handler that writes back everything it reads until the
// peer closes the stream. A clean close is not an error.
func Echo(bufSize int) Handler {
	if bufSize <= 0 {
		bufSize = DefaultEchoBufferSize
	}
	return HandlerFunc(func(ctx context.Context, c *Conn) error {
		buf := make([]byte, bufSize)
		for ctx.Err() == nil {
			n, err := c.Read(buf)
			if n > 0 {
				if _, werr := c.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if err != nil {
				if transport.IsClosed(err) {
					return nil
				}
				return err
			}
		}
		return nil
	})
}

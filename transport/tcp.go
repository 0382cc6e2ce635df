package transport

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Listener accepts framed Streams over TCP, the real carrier between a
// czar and a worker (spec §6).
type Listener struct {
	ln net.Listener
}

// Listen binds addr and returns a Listener. addr follows net.Listen's
// "host:port" convention, e.g. ":5012" for the worker's control port.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next incoming connection and wraps it as a Stream.
func (l *Listener) Accept() (Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "transport: accept")
	}
	return NewStream(conn), nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }

// Dial opens a framed Stream to addr, honoring ctx for connect-time
// cancellation (the czar cancels an in-flight dial the same way it
// cancels an in-flight Job, spec §4.8).
func Dial(ctx context.Context, addr string) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial")
	}
	return NewStream(conn), nil
}

// Package transport carries the framed wire protocol (spec §6.1) over a
// net.Conn: a fixed-size header frame followed by the body it describes.
// Grounded in the teacher's use of a thin retry/logging layer over plain
// net/http bodies (common/retryUtils.go), adapted here to a raw TCP
// stream since spec.md's Non-goals decline to mandate HTTP or a
// generated RPC stub for the worker/czar control channel.
package transport

import (
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/jonathansick-shadow/qserv/proto"
)

// Stream is one framed connection between a czar-side response handler
// and a worker-side query runner. Implementations must be safe for one
// concurrent reader and one concurrent writer (not for concurrent writers
// among themselves), matching net.Conn's own contract.
type Stream interface {
	SendFrame(h proto.Header, body []byte) error
	RecvFrame() (proto.Header, []byte, error)
	Close() error
}

// connStream frames proto.Header + body over an arbitrary net.Conn.
type connStream struct {
	conn net.Conn
}

// NewStream wraps conn in a Stream. conn is owned by the returned Stream;
// closing the Stream closes conn.
func NewStream(conn net.Conn) Stream {
	return &connStream{conn: conn}
}

// SendFrame writes the header frame followed by body. The header's Size
// and MD5 fields must already describe body; callers should build them
// with proto.ChecksumBody rather than trust a stale Header.
func (s *connStream) SendFrame(h proto.Header, body []byte) error {
	frame, err := proto.EncodeHeaderFrame(h)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return errors.Wrap(err, "transport: write header frame")
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := s.conn.Write(body); err != nil {
		return errors.Wrap(err, "transport: write body")
	}
	return nil
}

// RecvFrame reads one header frame and its body. Returns io.EOF verbatim
// when the peer closed the connection cleanly before any bytes of a new
// frame arrived.
func (s *connStream) RecvFrame() (proto.Header, []byte, error) {
	var frameBuf [proto.HeaderFrameSize]byte
	if _, err := io.ReadFull(s.conn, frameBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = errors.Wrap(err, "transport: partial header frame")
		}
		return proto.Header{}, nil, err
	}
	h, err := proto.DecodeHeaderFrame(frameBuf[:])
	if err != nil {
		return proto.Header{}, nil, err
	}
	if h.Size == 0 {
		return h, nil, nil
	}
	body := make([]byte, h.Size)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return proto.Header{}, nil, errors.Wrap(err, "transport: read body")
	}
	sum := proto.ChecksumBody(body)
	if sum != h.MD5 {
		return h, body, errors.New("transport: body MD5 mismatch")
	}
	return h, body, nil
}

func (s *connStream) Close() error {
	return s.conn.Close()
}

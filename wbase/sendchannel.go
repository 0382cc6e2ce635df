package wbase

import (
	"sync"

	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/transport"
)

// SendChannel is the worker's outbound half of a Task's response,
// wrapping a transport.Stream with the single-writer guarantee the
// framing layer needs (spec §6.1: frames for one task must not
// interleave with frames for another on the same connection).
type SendChannel struct {
	mu     sync.Mutex
	stream transport.Stream
}

func NewSendChannel(stream transport.Stream) *SendChannel {
	return &SendChannel{stream: stream}
}

// SendResult frames and writes one result, setting Continues per the
// caller's instruction (spec §4.7's multi-frame continuation contract).
func (c *SendChannel) SendResult(r proto.Result) error {
	body, err := proto.EncodeResult(r)
	if err != nil {
		return err
	}
	h := proto.Header{
		Size:      uint64(len(body)),
		MD5:       proto.ChecksumBody(body),
		Continues: r.Continues,
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.SendFrame(h, body)
}

func (c *SendChannel) Close() error {
	return c.stream.Close()
}

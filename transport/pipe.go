package transport

import "net"

// Pipe returns a pair of in-memory, connected Streams for tests that
// exercise framing without a real socket, mirroring the teacher's
// preference for exercising retry/pacer logic over net.Pipe-style fakes
// rather than a live network dependency in unit tests.
func Pipe() (Stream, Stream) {
	a, b := net.Pipe()
	return NewStream(a), NewStream(b)
}

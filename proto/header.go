// Package proto defines the wire types exchanged between czar and worker:
// the task description sent down to a worker, and the framed response
// header/body sent back up (spec §6, "Wire Protocol"). Grounded in
// original_source/core/modules/proto/WorkerResponse.h for the
// header/body split and in spec.md's Non-goals ("does not mandate a
// specific serialization format for control messages beyond the framing
// contract") for the choice to encode with encoding/gob rather than a
// generated protobuf stub.
package proto

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"

	"github.com/pkg/errors"
)

// HeaderFrameSize is the fixed size of the header frame on the wire (spec
// §6.1): one length-prefix byte followed by the gob-encoded Header,
// zero-padded to fill the frame. A fixed frame lets the reader allocate
// once and never resize mid-read.
const HeaderFrameSize = 255

// Header precedes every response body (spec §6.1).
type Header struct {
	WorkerName string
	Size       uint64 // body length in bytes
	MD5        [md5.Size]byte
	Continues  bool // true if another frame follows for the same job
}

// EncodeHeaderFrame serializes h into a HeaderFrameSize-byte frame whose
// first byte is the effective (unpadded) length of the gob payload, per
// spec §6.1's "first byte = effective header length" framing.
func EncodeHeaderFrame(h Header) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return nil, errors.Wrap(err, "proto: encode header")
	}
	payload := buf.Bytes()
	if len(payload) > HeaderFrameSize-1 {
		return nil, errors.Errorf("proto: encoded header too large (%d bytes)", len(payload))
	}
	frame := make([]byte, HeaderFrameSize)
	frame[0] = byte(len(payload))
	copy(frame[1:], payload)
	return frame, nil
}

// DecodeHeaderFrame parses a HeaderFrameSize-byte frame produced by
// EncodeHeaderFrame.
func DecodeHeaderFrame(frame []byte) (Header, error) {
	var h Header
	if len(frame) != HeaderFrameSize {
		return h, errors.Errorf("proto: header frame must be %d bytes, got %d", HeaderFrameSize, len(frame))
	}
	n := int(frame[0])
	if n > HeaderFrameSize-1 {
		return h, errors.New("proto: corrupt header frame length byte")
	}
	if err := gob.NewDecoder(bytes.NewReader(frame[1 : 1+n])).Decode(&h); err != nil {
		return h, errors.Wrap(err, "proto: decode header")
	}
	return h, nil
}

// ChecksumBody computes the MD5 that belongs in a Header for the given
// body bytes (spec §6.1, HANDLER-INTEGRITY).
func ChecksumBody(body []byte) [md5.Size]byte {
	return md5.Sum(body)
}

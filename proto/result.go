package proto

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// Result is one frame's worth of row data returned from a worker for a
// single Task (spec §3, "Result"). A task whose result spans multiple
// frames sets Continues on every frame but the last, mirroring the
// Header.Continues flag it travels alongside.
type Result struct {
	QueryID   uint64
	JobID     int32
	ChunkID   int32
	Rows      [][]byte // opaque, pre-serialized row data for this frame
	Continues bool
	ErrorCode int32
	ErrorText string
}

// WorkerResponse bundles the framing header with the decoded body for
// callers that already validated HANDLER-INTEGRITY (spec §4.7) and just
// want the payload, mirroring original_source's proto::WorkerResponse
// which pairs a ProtoHeader with the raw result bytes.
type WorkerResponse struct {
	Header Header
	Result Result
}

// EncodeResult gob-encodes r into the bytes that become a frame body.
func EncodeResult(r Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, errors.Wrap(err, "proto: encode result")
	}
	return buf.Bytes(), nil
}

// DecodeResult reverses EncodeResult.
func DecodeResult(body []byte) (Result, error) {
	var r Result
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&r); err != nil {
		return r, errors.Wrap(err, "proto: decode result")
	}
	return r, nil
}

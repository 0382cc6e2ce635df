package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/proto"
)

func TestStreamSendRecvFrame(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte("row data for chunk 17")
	h := proto.Header{
		WorkerName: "worker-03",
		Size:       uint64(len(body)),
		MD5:        proto.ChecksumBody(body),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.SendFrame(h, body) }()

	gotH, gotBody, err := server.RecvFrame()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, h, gotH)
	require.Equal(t, body, gotBody)
}

func TestStreamRecvFrameDetectsCorruption(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	body := []byte("original body")
	h := proto.Header{Size: uint64(len(body)), MD5: proto.ChecksumBody([]byte("tampered body"))}

	errCh := make(chan error, 1)
	go func() { errCh <- client.SendFrame(h, body) }()

	_, _, err := server.RecvFrame()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MD5 mismatch")
	<-errCh
}

func TestStreamMultiFrameContinuation(t *testing.T) {
	client, server := Pipe()
	defer client.Close()
	defer server.Close()

	frames := [][]byte{[]byte("part one"), []byte("part two")}
	done := make(chan error, 1)
	go func() {
		for i, b := range frames {
			h := proto.Header{Size: uint64(len(b)), MD5: proto.ChecksumBody(b), Continues: i < len(frames)-1}
			if err := client.SendFrame(h, b); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for i, want := range frames {
		h, body, err := server.RecvFrame()
		require.NoError(t, err)
		require.Equal(t, want, body)
		require.Equal(t, i < len(frames)-1, h.Continues)
	}
	require.NoError(t, <-done)
}

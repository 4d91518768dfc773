package sandbox

import (
	"bufio"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendRecvRoundTripsAFrame(t *testing.T) {
	pr, pw := io.Pipe()
	sender := &worker{stdin: bufio.NewWriter(pw)}
	receiver := &worker{stdout: bufio.NewReader(pr)}

	sent := Message{Type: MsgRPCCall, ID: "trace-1", Server: "files", Tool: "read"}
	errCh := make(chan error, 1)
	go func() { errCh <- sender.send(sent) }()

	got, err := receiver.recv()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, sent.Type, got.Type)
	require.Equal(t, sent.ID, got.ID)
	require.Equal(t, sent.Server, got.Server)
	require.Equal(t, sent.Tool, got.Tool)
}

func TestRecvSurfacesEOFOnClosedPipe(t *testing.T) {
	pr, pw := io.Pipe()
	require.NoError(t, pw.Close())
	receiver := &worker{stdout: bufio.NewReader(pr)}

	_, err := receiver.recv()
	require.ErrorIs(t, err, io.EOF)
}

package socket

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenAndDial(t *testing.T) (*Socket, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverConnCh <- c
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := Connect(ctx, "127.0.0.1", ln.Addr().(*net.TCPAddr).Port, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { _ = serverConn.Close() })
	return s, serverConn
}

func TestReadZeroDoesNotBlock(t *testing.T) {
	s, _ := listenAndDial(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := s.Read(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestReadExactBytes(t *testing.T) {
	s, peer := listenAndDial(t)
	_, err := peer.Write([]byte("hello!"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := s.Read(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	b, err = s.Read(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "!", string(b))
}

func TestReadUintBigEndian(t *testing.T) {
	s, peer := listenAndDial(t)
	_, err := peer.Write([]byte{0x00, 0x01, 0x00, 0x02})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.ReadUint(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)

	v, err = s.ReadUint(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestInsufficientDataOnEarlyClose(t *testing.T) {
	s, peer := listenAndDial(t)
	_, err := peer.Write([]byte{0x01, 0x02})
	require.NoError(t, err)
	_ = peer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.Read(ctx, 5)
	require.Error(t, err)
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Expected)
	assert.Equal(t, 2, insufficient.Got)
}

func TestReadUntilSingleByteDelimiter(t *testing.T) {
	s, peer := listenAndDial(t)
	_, err := peer.Write([]byte("line-one\nrest"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	line, err := s.ReadUntil(ctx, []byte("\n"), 0, false)
	require.NoError(t, err)
	assert.Equal(t, "line-one", line)

	b, err := s.Read(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "rest", string(b))
}

func TestSkipPastLeavesCursorAfterDelimiter(t *testing.T) {
	s, peer := listenAndDial(t)
	_, err := peer.Write([]byte("abc|def"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.SkipPast(ctx, []byte("|"), 0))

	b, err := s.Read(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "def", string(b))
}

func TestFramingExceededClosesSocket(t *testing.T) {
	s, peer := listenAndDial(t)
	// Send far more bytes than the cap before ever reading.
	big := bytes.Repeat([]byte{0xAA}, DefaultMaxBufferBytes+1024)
	go func() { _, _ = peer.Write(big) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.Read(ctx, DefaultMaxBufferBytes+2)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := listenAndDial(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Read(ctx, 1)
	require.Error(t, err)
}

func TestWriteFileZeroLengthYieldsSingleSample(t *testing.T) {
	s, _ := listenAndDial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	progressCh, errCh := s.WriteFile(ctx, bytes.NewReader(nil), 0, 1024)
	samples := 0
	for range progressCh {
		samples++
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, 1, samples)
}

func TestReceiveFileStreamsChunks(t *testing.T) {
	s, peer := listenAndDial(t)
	payload := bytes.Repeat([]byte{0x42}, 10)
	go func() { _, _ = peer.Write(payload) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out bytes.Buffer
	progressCh, errCh := s.ReceiveFile(ctx, &out, int64(len(payload)), 3)
	var last Progress
	for p := range progressCh {
		last = p
	}
	require.NoError(t, <-errCh)
	assert.EqualValues(t, len(payload), last.Sent)
	assert.Equal(t, payload, out.Bytes())
}

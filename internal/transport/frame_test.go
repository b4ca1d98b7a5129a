package transport

import (
	"bytes"
	"crypto/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// chunkedConn is a net.Conn backed by an in-memory byte queue whose Read
// calls only ever return up to maxChunk bytes at a time, simulating
// arbitrary TCP chunking (mid-VarInt, mid-ciphertext-byte) for property #2.
type chunkedConn struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	maxChunk int
	closed   bool
}

func newChunkedConn(maxChunk int) *chunkedConn { return &chunkedConn{maxChunk: maxChunk} }

func (c *chunkedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *chunkedConn) Read(p []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.buf.Len() > 0 {
			n := c.maxChunk
			if n > len(p) {
				n = len(p)
			}
			if n > c.buf.Len() {
				n = c.buf.Len()
			}
			read, _ := c.buf.Read(p[:n])
			c.mu.Unlock()
			return read, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return 0, netEOF{}
		}
		time.Sleep(time.Millisecond)
	}
}

type netEOF struct{}

func (netEOF) Error() string   { return "EOF" }
func (netEOF) Timeout() bool   { return false }
func (netEOF) Temporary() bool { return false }

func (c *chunkedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
func (c *chunkedConn) LocalAddr() net.Addr                { return nil }
func (c *chunkedConn) RemoteAddr() net.Addr               { return nil }
func (c *chunkedConn) SetDeadline(time.Time) error        { return nil }
func (c *chunkedConn) SetReadDeadline(time.Time) error    { return nil }
func (c *chunkedConn) SetWriteDeadline(time.Time) error   { return nil }

func TestFramingRoundTripAllCombinations(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		bytes.Repeat([]byte{0xAB}, 10),
		bytes.Repeat([]byte{0x7F}, 500),
	}

	for _, compOn := range []bool{false, true} {
		for _, encOn := range []bool{false, true} {
			conn := newChunkedConn(3)
			writer := NewFramedConn(conn)
			reader := NewFramedConn(conn)

			if compOn {
				writer.Compression.Enable(16)
				reader.Compression.Enable(16)
			}
			if encOn {
				secret := make([]byte, 16)
				_, err := rand.Read(secret)
				require.NoError(t, err)
				require.NoError(t, writer.EnableEncryption(secret))
				require.NoError(t, reader.EnableEncryption(secret))
			}

			for _, p := range payloads {
				require.NoError(t, writer.WriteFrame(p))
			}

			for _, want := range payloads {
				got, err := reader.ReadFrame()
				require.NoError(t, err)
				require.Equal(t, want, got)
			}
		}
	}
}

func TestCompressionThresholdLaw(t *testing.T) {
	conn := newChunkedConn(64)
	writer := NewFramedConn(conn)
	reader := NewFramedConn(conn)
	writer.Compression.Enable(32)
	reader.Compression.Enable(32)

	small := bytes.Repeat([]byte{0x01}, 10) // < threshold
	large := bytes.Repeat([]byte{0x02}, 64) // >= threshold

	require.NoError(t, writer.WriteFrame(small))
	require.NoError(t, writer.WriteFrame(large))

	gotSmall, err := reader.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, small, gotSmall)

	gotLarge, err := reader.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, large, gotLarge)
}

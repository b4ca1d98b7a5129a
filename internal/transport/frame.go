// Package transport implements the framed connection: length-prefixed
// frames over TCP, optional zlib compression, optional AES-128/CFB8
// encryption — the read and write halves split from a single socket the way
// the teacher's GameClient splits its writePump from the accept loop's
// reader.
package transport

import (
	"bytes"
	"crypto/cipher"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/blockworld/server/internal/crypto"
	"github.com/blockworld/server/internal/protocol"
)

// CompressionState is shared between a connection's reader and writer via
// atomics, matching §3's "both shared between reader/writer via atomic
// cell" invariant.
type CompressionState struct {
	enabled   atomic.Bool
	threshold atomic.Int32
}

func (c *CompressionState) Enable(threshold int32) {
	c.threshold.Store(threshold)
	c.enabled.Store(true)
}

func (c *CompressionState) Enabled() bool    { return c.enabled.Load() }
func (c *CompressionState) Threshold() int32 { return c.threshold.Load() }

const maxFrameLen = 2 * 1024 * 1024

// FramedConn owns the raw socket plus the buffers and cipher state needed to
// read and write complete frames. A single write lock serialises frame
// emission (§3); the read side is only ever driven by one goroutine (the
// connection actor's reader loop) so no read lock is needed there.
type FramedConn struct {
	conn net.Conn

	Compression *CompressionState

	encMu      sync.Mutex
	encStream  cipher.Stream
	decStream  cipher.Stream
	encEnabled atomic.Bool

	writeMu sync.Mutex

	recvBuf bytes.Buffer // decrypted, yet-unframed bytes
	encBuf  bytes.Buffer // ciphertext awaiting decryption
	readTmp []byte
}

// NewFramedConn wraps a raw TCP connection.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{
		conn:        conn,
		Compression: &CompressionState{},
		readTmp:     make([]byte, 4096),
	}
}

// RemoteAddr exposes the underlying socket's peer address.
func (f *FramedConn) RemoteAddr() net.Addr { return f.conn.RemoteAddr() }

// SetReadDeadline forwards to the underlying socket, used by the Status
// phase's configurable idle timeout (§4.C).
func (f *FramedConn) SetReadDeadline(t time.Time) error { return f.conn.SetReadDeadline(t) }

// Close closes the underlying socket.
func (f *FramedConn) Close() error { return f.conn.Close() }

// EnableEncryption turns on AES-128/CFB8 in both directions, keyed and
// IV'd by the 16-byte shared secret. Once enabled it is never disabled for
// the lifetime of the connection (§4.B).
func (f *FramedConn) EnableEncryption(sharedSecret []byte) error {
	if len(sharedSecret) != 16 {
		return fmt.Errorf("transport: shared secret must be 16 bytes, got %d", len(sharedSecret))
	}
	enc, err := crypto.NewCFB8Encrypter(sharedSecret)
	if err != nil {
		return err
	}
	dec, err := crypto.NewCFB8Decrypter(sharedSecret)
	if err != nil {
		return err
	}
	f.encMu.Lock()
	f.encStream = enc
	f.decStream = dec
	f.encMu.Unlock()
	f.encEnabled.Store(true)
	return nil
}

// WriteFrame builds one frame from payload (opcode VarInt + fields already
// serialised by the caller) per §4.B's write algorithm and writes it to the
// socket. Safe for concurrent callers; frame emission is serialised.
func (f *FramedConn) WriteFrame(payload []byte) error {
	var outer []byte

	if f.Compression.Enabled() {
		threshold := f.Compression.Threshold()
		if int32(len(payload)) >= threshold {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(payload); err != nil {
				return fmt.Errorf("transport: compressing frame: %w", err)
			}
			if err := zw.Close(); err != nil {
				return fmt.Errorf("transport: closing zlib writer: %w", err)
			}
			compressed := buf.Bytes()
			innerLen := protocol.PutVarInt(nil, int32(len(payload)))
			body := make([]byte, 0, len(innerLen)+len(compressed))
			body = append(body, innerLen...)
			body = append(body, compressed...)
			outer = append(protocol.PutVarInt(nil, int32(len(body))), body...)
		} else {
			body := make([]byte, 0, 1+len(payload))
			body = append(body, 0x00) // inner VarInt 0 = literal
			body = append(body, payload...)
			outer = append(protocol.PutVarInt(nil, int32(len(body))), body...)
		}
	} else {
		outer = append(protocol.PutVarInt(nil, int32(len(payload))), payload...)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.encEnabled.Load() {
		f.encMu.Lock()
		ciphertext := make([]byte, len(outer))
		f.encStream.XORKeyStream(ciphertext, outer)
		f.encMu.Unlock()
		outer = ciphertext
	}

	_, err := f.conn.Write(outer)
	return err
}

// ReadFrame blocks until one complete frame has been received and returns
// its payload (opcode VarInt still at the head), per §4.B's read algorithm.
// Not safe for concurrent callers — exactly one reader goroutine per
// connection, matching the spec's ordering guarantee.
func (f *FramedConn) ReadFrame() ([]byte, error) {
	for {
		if payload, ok, err := f.tryParseFrame(); err != nil {
			return nil, err
		} else if ok {
			return payload, nil
		}

		n, err := f.conn.Read(f.readTmp)
		if n > 0 {
			if f.encEnabled.Load() {
				f.encBuf.Write(f.readTmp[:n])
				f.decryptPending()
			} else {
				f.recvBuf.Write(f.readTmp[:n])
			}
		}
		if err != nil {
			if err == io.EOF && f.recvBuf.Len() == 0 {
				return nil, io.EOF
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// decryptPending decrypts everything currently buffered in encBuf and
// appends the plaintext to recvBuf, then clears encBuf. CFB8's per-byte
// operation makes this safe regardless of how the ciphertext was chunked by
// TCP (property #3).
func (f *FramedConn) decryptPending() {
	f.encMu.Lock()
	defer f.encMu.Unlock()
	ciphertext := f.encBuf.Bytes()
	if len(ciphertext) == 0 {
		return
	}
	plaintext := make([]byte, len(ciphertext))
	f.decStream.XORKeyStream(plaintext, ciphertext)
	f.recvBuf.Write(plaintext)
	f.encBuf.Reset()
}

// tryParseFrame attempts to extract one complete frame from recvBuf without
// blocking. ok=false means more bytes are needed.
func (f *FramedConn) tryParseFrame() (payload []byte, ok bool, err error) {
	raw := f.recvBuf.Bytes()

	frameLen, n, gotLen, err := protocol.DecodeVarInt(raw)
	if err != nil {
		return nil, false, fmt.Errorf("transport: protocol violation decoding frame length: %w", err)
	}
	if !gotLen {
		return nil, false, nil
	}
	if frameLen < 0 || frameLen > maxFrameLen {
		return nil, false, fmt.Errorf("transport: protocol violation: frame length %d out of bounds", frameLen)
	}
	if len(raw) < n+int(frameLen) {
		return nil, false, nil
	}

	frame := make([]byte, frameLen)
	copy(frame, raw[n:n+int(frameLen)])

	consumed := n + int(frameLen)
	remaining := make([]byte, f.recvBuf.Len()-consumed)
	copy(remaining, raw[consumed:])
	f.recvBuf.Reset()
	f.recvBuf.Write(remaining)

	if !f.Compression.Enabled() {
		return frame, true, nil
	}

	innerLen, innerN, innerOK, err := protocol.DecodeVarInt(frame)
	if err != nil || !innerOK {
		return nil, false, fmt.Errorf("transport: protocol violation decoding inner compression length")
	}
	rest := frame[innerN:]
	if innerLen == 0 {
		return rest, true, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, false, fmt.Errorf("transport: decompression failure: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, false, fmt.Errorf("transport: decompression failure: %w", err)
	}
	if int32(len(out)) != innerLen {
		return nil, false, fmt.Errorf("transport: decompressed length %d does not match declared %d", len(out), innerLen)
	}
	return out, true, nil
}

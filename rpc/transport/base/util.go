package base

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"io"
	"math"
	"net"
	"syscall"
)

const (
	frameHeaderSize      = 8 // uint64 payload length
	rankSize             = 4 // uint32 rank
	confirmByte     byte = 1
)

// --------------------------------------------------------------------------
// Frame codec (command messages and error reports)
// --------------------------------------------------------------------------

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: data length (uint64, big endian)
// - N bytes: data payload
func writeFrame(w io.Writer, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header, uint64(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(w)
	return err
}

// readFrame reads exactly one frame. The declared length is trusted, there is no upper limit.
// A connection that ends inside a frame yields io.ErrUnexpectedEOF.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	contentLength := binary.BigEndian.Uint64(header[:])
	if contentLength > math.MaxInt {
		return nil, fmt.Errorf("frame length %d exceeds addressable memory", contentLength)
	}

	data := make([]byte, contentLength)
	if contentLength == 0 {
		return data, nil
	}

	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// --------------------------------------------------------------------------
// Handshake (raw values, never frame wrapped)
// --------------------------------------------------------------------------

// writeRank announces the rank of a joining worker
func writeRank(w io.Writer, rank common.Rank) error {
	var buf [rankSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(rank))
	_, err := w.Write(buf[:])
	return err
}

// readRank reads the rank announced by a joining worker
func readRank(r io.Reader) (common.Rank, error) {
	var buf [rankSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return common.Rank(binary.BigEndian.Uint32(buf[:])), nil
}

// writeConfirm releases a worker waiting on the join barrier
func writeConfirm(w io.Writer) error {
	_, err := w.Write([]byte{confirmByte})
	return err
}

// readConfirm blocks until the master releases the join barrier.
// The value of the byte is not checked, its arrival is the signal.
func readConfirm(r io.Reader) error {
	var buf [1]byte
	_, err := io.ReadFull(r, buf[:])
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// isHangup reports whether err means the peer is gone rather than a malformed read
func isHangup(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

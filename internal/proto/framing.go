package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Tunnel wire format, after the handshake:
//
//	frame    = length(uint32 big-endian) ++ payload[length]
//	payload  = tag ++ delimiter ++ client bytes
//
// Tags are minted so they can never contain the delimiter sequence, which
// makes splitting at the first delimiter occurrence unambiguous even when
// the client bytes happen to contain it.

// Delimiter separates the tag from the client payload inside a frame.
var Delimiter = []byte("@#%!$")

// IDLen is the fixed size of the whitespace-padded proxy identifier sent
// by a proxy immediately after connecting.
const IDLen = 80

// Handshake response bytes written by the relay after reading the id.
const (
	Accepted byte = '1'
	Rejected byte = '0'
)

// MaxFrameSize bounds a single frame payload. Relay-built frames are a tag
// plus at most one 16 KiB client read, so anything near this limit means a
// corrupt or hostile peer.
const MaxFrameSize = 1 << 24

var (
	ErrMissingDelimiter = errors.New("proto: frame has no tag delimiter")
	ErrFrameTooLarge    = errors.New("proto: frame exceeds size limit")
)

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads exactly one frame from r, retrying short reads until the
// frame is complete. io.EOF before any header byte means the peer closed
// between frames and is returned as-is; EOF inside a frame becomes
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Envelope builds the inner multiplex payload for a frame.
func Envelope(tag string, payload []byte) []byte {
	buf := make([]byte, 0, len(tag)+len(Delimiter)+len(payload))
	buf = append(buf, tag...)
	buf = append(buf, Delimiter...)
	buf = append(buf, payload...)
	return buf
}

// SplitEnvelope splits a frame payload at the first delimiter occurrence.
func SplitEnvelope(frame []byte) (tag string, payload []byte, err error) {
	at := bytes.Index(frame, Delimiter)
	if at < 0 {
		return "", nil, ErrMissingDelimiter
	}
	return string(frame[:at]), frame[at+len(Delimiter):], nil
}

// WriteID writes the fixed-size padded proxy identifier.
func WriteID(w io.Writer, id string) error {
	if len(id) > IDLen {
		return fmt.Errorf("proto: proxy id longer than %d bytes: %q", IDLen, id)
	}
	buf := make([]byte, IDLen)
	for i := range buf {
		buf[i] = ' '
	}
	copy(buf, id)
	_, err := w.Write(buf)
	return err
}

// ReadID reads the fixed-size identifier and strips the padding.
func ReadID(r io.Reader) (string, error) {
	buf := make([]byte, IDLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

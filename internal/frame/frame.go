// Package frame decodes the engine's multiplexed stdio stream: every chunk is
// preceded by an 8-byte header holding the stream type, three reserved bytes
// and a big-endian payload length.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type StreamType byte

const (
	Stdin StreamType = iota
	Stdout
	Stderr
	SystemErr
)

func (s StreamType) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	case SystemErr:
		return "systemerr"
	default:
		return fmt.Sprintf("stream(%d)", byte(s))
	}
}

const HeaderSize = 8

// MaxPayload bounds a single frame; the engine never emits more than a few KiB.
const MaxPayload = 16 << 20

var (
	ErrUnknownStream = errors.New("unknown stream type")
	ErrFrameTooLarge = errors.New("frame payload too large")
)

type Header struct {
	Stream StreamType
	Length uint32
}

// ParseHeader decodes an 8-byte frame header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, io.ErrUnexpectedEOF
	}
	h := Header{
		Stream: StreamType(b[0]),
		Length: binary.BigEndian.Uint32(b[4:HeaderSize]),
	}
	if h.Stream > SystemErr {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownStream, b[0])
	}
	return h, nil
}

func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Stream)
	binary.BigEndian.PutUint32(b[4:], h.Length)
	return b
}

type Frame struct {
	Stream  StreamType
	Payload []byte
}

// Encode renders a single frame.
func Encode(stream StreamType, payload []byte) []byte {
	out := Header{Stream: stream, Length: uint32(len(payload))}.Bytes()
	return append(out, payload...)
}

type Reader struct {
	r   io.Reader
	hdr [HeaderSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next frame. io.EOF is returned only on a clean frame
// boundary; a stream cut inside a frame yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Frame, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		return Frame{}, err
	}

	h, err := ParseHeader(r.hdr[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Length)
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Stream: h.Stream, Payload: payload}, nil
}

// PayloadReader presents the stdout and stderr payloads of a multiplexed
// stream as one contiguous byte stream.
type PayloadReader struct {
	fr      *Reader
	pending []byte
}

func NewPayloadReader(r io.Reader) *PayloadReader {
	return &PayloadReader{fr: NewReader(r)}
}

func (p *PayloadReader) Read(b []byte) (int, error) {
	for len(p.pending) == 0 {
		f, err := p.fr.Next()
		if err != nil {
			return 0, err
		}
		if f.Stream == SystemErr {
			return 0, fmt.Errorf("engine error: %s", f.Payload)
		}
		p.pending = f.Payload
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

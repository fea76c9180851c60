package frame

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Terminator ends every message on both relay channels.
var Terminator = []byte{0x09, 0x0D, 0x0A}

const identDelimiter = '\n'

var (
	ErrFrameTooLarge     = errors.New("frame: message exceeds limit")
	ErrIdentTooLong      = errors.New("frame: identifier line too long")
	ErrMissingTerminator = errors.New("frame: missing terminator")
)

// Limits constrains receive-side buffering.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 64 * 1024,
	}
}

// AppendFrame appends parts and the terminator to dst.
func AppendFrame(dst []byte, parts ...[]byte) []byte {
	for _, p := range parts {
		dst = append(dst, p...)
	}
	return append(dst, Terminator...)
}

// Write sends parts as one terminated message using a single Write call on w.
func Write(w io.Writer, parts ...[]byte) error {
	size := len(Terminator)
	for _, p := range parts {
		size += len(p)
	}
	msg := AppendFrame(make([]byte, 0, size), parts...)
	n, err := w.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return io.ErrShortWrite
	}
	return nil
}

// Splitter accumulates a byte stream and yields terminator-delimited
// messages. Bytes after the last terminator are kept for the next Feed.
type Splitter struct {
	limits Limits
	buf    []byte
}

func NewSplitter(limits Limits) *Splitter {
	if limits.MaxFrameBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Splitter{limits: limits}
}

// Feed appends p and returns every message completed by it, in order.
// The accumulator is dropped when it grows past the frame limit without a
// terminator.
func (s *Splitter) Feed(p []byte) ([][]byte, error) {
	s.buf = append(s.buf, p...)
	var out [][]byte
	for {
		msg, ok := s.next()
		if !ok {
			break
		}
		out = append(out, msg)
	}
	if err := s.checkLimit(); err != nil {
		return out, err
	}
	return out, nil
}

// Pending reports how many bytes are buffered without a terminator yet.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

func (s *Splitter) next() ([]byte, bool) {
	idx := bytes.Index(s.buf, Terminator)
	if idx < 0 {
		return nil, false
	}
	msg := bytes.Clone(s.buf[:idx])
	s.consume(idx + len(Terminator))
	return msg, true
}

func (s *Splitter) consume(n int) {
	rest := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:rest]
}

func (s *Splitter) checkLimit() error {
	if len(s.buf) > s.limits.MaxFrameBytes+len(Terminator) {
		size := len(s.buf)
		s.buf = s.buf[:0]
		return fmt.Errorf("%w: %d buffered bytes without terminator", ErrFrameTooLarge, size)
	}
	return nil
}

// Reader reads identifier lines and messages from a stream. Bytes read past
// the end of one item stay buffered as look-ahead for the next call.
type Reader struct {
	r     io.Reader
	s     *Splitter
	chunk []byte
	err   error
}

func NewReader(r io.Reader, limits Limits) *Reader {
	return &Reader{
		r:     r,
		s:     NewSplitter(limits),
		chunk: make([]byte, 4096),
	}
}

// Buffered returns the number of look-ahead bytes held.
func (r *Reader) Buffered() int {
	return r.s.Pending()
}

// ReadIdent returns the bytes before the next single newline. More than max
// bytes without a newline fails with ErrIdentTooLong.
func (r *Reader) ReadIdent(max int) (string, error) {
	for {
		if idx := bytes.IndexByte(r.s.buf, identDelimiter); idx >= 0 {
			if idx > max {
				return "", fmt.Errorf("%w: %d > %d", ErrIdentTooLong, idx, max)
			}
			ident := string(r.s.buf[:idx])
			r.s.consume(idx + 1)
			return ident, nil
		}
		if len(r.s.buf) > max {
			return "", fmt.Errorf("%w: %d bytes without newline", ErrIdentTooLong, len(r.s.buf))
		}
		if err := r.fill(); err != nil {
			return "", err
		}
	}
}

// ReadFrame returns the next terminator-delimited message.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		if msg, ok := r.s.next(); ok {
			return msg, nil
		}
		if err := r.s.checkLimit(); err != nil {
			return nil, err
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// ReadSized reads exactly n payload bytes and then requires the terminator.
// Payload bytes that happen to equal the terminator are not treated as one.
func (r *Reader) ReadSized(n int) ([]byte, error) {
	if n < 0 || n > r.s.limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	need := n + len(Terminator)
	for len(r.s.buf) < need {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	if !bytes.Equal(r.s.buf[n:need], Terminator) {
		got := bytes.Clone(r.s.buf[n:need])
		r.s.consume(need)
		return nil, fmt.Errorf("%w: got % x after %d bytes", ErrMissingTerminator, got, n)
	}
	msg := bytes.Clone(r.s.buf[:n])
	r.s.consume(need)
	return msg, nil
}

func (r *Reader) fill() error {
	if r.err != nil {
		return r.err
	}
	for range maxEmptyReads {
		n, err := r.r.Read(r.chunk)
		if n > 0 {
			r.s.buf = append(r.s.buf, r.chunk[:n]...)
			r.err = err
			return nil
		}
		if err != nil {
			return err
		}
	}
	return io.ErrNoProgress
}

const maxEmptyReads = 100

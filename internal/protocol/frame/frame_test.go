package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/danmuck/trackrelay/internal/testutil/testlog"
)

func TestWriteUsesSingleCall(t *testing.T) {
	testlog.Start(t)

	w := &countingWriter{}
	if err := Write(w, []byte("ab"), []byte("cd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if w.calls != 1 {
		t.Fatalf("expected 1 write call, got %d", w.calls)
	}
	want := []byte{'a', 'b', 'c', 'd', 0x09, 0x0D, 0x0A}
	if !bytes.Equal(w.buf.Bytes(), want) {
		t.Fatalf("wire mismatch: got % x want % x", w.buf.Bytes(), want)
	}
}

func TestWriteShortWrite(t *testing.T) {
	testlog.Start(t)

	err := Write(shortWriter{}, []byte("payload"))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestSplitterBurstAndArbitrarySplitsAgree(t *testing.T) {
	testlog.Start(t)

	stream := AppendFrame(AppendFrame(nil, []byte("msgA")), []byte("msgB"))

	burst, err := NewSplitter(DefaultLimits()).Feed(stream)
	if err != nil {
		t.Fatalf("burst feed: %v", err)
	}
	assertMessages(t, "burst", burst, "msgA", "msgB")

	for cut := 1; cut < len(stream); cut++ {
		s := NewSplitter(DefaultLimits())
		first, err := s.Feed(stream[:cut])
		if err != nil {
			t.Fatalf("cut=%d first feed: %v", cut, err)
		}
		second, err := s.Feed(stream[cut:])
		if err != nil {
			t.Fatalf("cut=%d second feed: %v", cut, err)
		}
		assertMessages(t, "split", append(first, second...), "msgA", "msgB")
		if s.Pending() != 0 {
			t.Fatalf("cut=%d pending=%d", cut, s.Pending())
		}
	}

	s := NewSplitter(DefaultLimits())
	var got [][]byte
	for _, b := range stream {
		msgs, err := s.Feed([]byte{b})
		if err != nil {
			t.Fatalf("byte feed: %v", err)
		}
		got = append(got, msgs...)
	}
	assertMessages(t, "bytewise", got, "msgA", "msgB")
}

func TestSplitterKeepsRemainder(t *testing.T) {
	testlog.Start(t)

	s := NewSplitter(DefaultLimits())
	msgs, err := s.Feed([]byte("one\t\r\ntw"))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	assertMessages(t, "first", msgs, "one")
	if s.Pending() != 2 {
		t.Fatalf("pending=%d want 2", s.Pending())
	}
	msgs, err = s.Feed([]byte("o\t\r\n"))
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	assertMessages(t, "second", msgs, "two")
}

func TestSplitterLimit(t *testing.T) {
	testlog.Start(t)

	s := NewSplitter(Limits{MaxFrameBytes: 8})
	_, err := s.Feed(bytes.Repeat([]byte{'x'}, 16))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if s.Pending() != 0 {
		t.Fatalf("accumulator not reset: %d", s.Pending())
	}
}

func TestReaderIdentKeepsLookahead(t *testing.T) {
	testlog.Start(t)

	wire := append([]byte("hello\n"), AppendFrame(nil, []byte("rest"))...)
	r := NewReader(bytes.NewReader(wire), DefaultLimits())
	ident, err := r.ReadIdent(50)
	if err != nil {
		t.Fatalf("read ident: %v", err)
	}
	if ident != "hello" {
		t.Fatalf("ident=%q", ident)
	}
	if r.Buffered() != len("rest")+len(Terminator) {
		t.Fatalf("look-ahead=%d", r.Buffered())
	}
	msg, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(msg) != "rest" {
		t.Fatalf("frame=%q", msg)
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderIdentOneByteAtATime(t *testing.T) {
	testlog.Start(t)

	r := NewReader(iotest.OneByteReader(bytes.NewReader([]byte("monky\n"))), DefaultLimits())
	ident, err := r.ReadIdent(50)
	if err != nil {
		t.Fatalf("read ident: %v", err)
	}
	if ident != "monky" {
		t.Fatalf("ident=%q", ident)
	}
}

func TestReaderIdentTooLong(t *testing.T) {
	testlog.Start(t)

	r := NewReader(bytes.NewReader(bytes.Repeat([]byte{'a'}, 80)), DefaultLimits())
	if _, err := r.ReadIdent(50); !errors.Is(err, ErrIdentTooLong) {
		t.Fatalf("expected ErrIdentTooLong, got %v", err)
	}
}

func TestReadSizedIgnoresEmbeddedTerminator(t *testing.T) {
	testlog.Start(t)

	payload := []byte{1, 0x09, 0x0D, 0x0A, 2}
	wire := AppendFrame(nil, payload)
	wire = AppendFrame(wire, payload)
	r := NewReader(iotest.HalfReader(bytes.NewReader(wire)), DefaultLimits())
	for i := 0; i < 2; i++ {
		got, err := r.ReadSized(len(payload))
		if err != nil {
			t.Fatalf("read sized %d: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("read sized %d: got % x", i, got)
		}
	}
}

func TestReadSizedMissingTerminator(t *testing.T) {
	testlog.Start(t)

	r := NewReader(bytes.NewReader([]byte("abcdefg")), DefaultLimits())
	if _, err := r.ReadSized(4); !errors.Is(err, ErrMissingTerminator) {
		t.Fatalf("expected ErrMissingTerminator, got %v", err)
	}
}

func TestReadSizedPropagatesReaderError(t *testing.T) {
	testlog.Start(t)

	r := NewReader(bytes.NewReader([]byte("ab")), DefaultLimits())
	if _, err := r.ReadSized(4); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if _, err := r.ReadSized(DefaultLimits().MaxFrameBytes + 1); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func assertMessages(t *testing.T, label string, got [][]byte, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d messages want %d", label, len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("%s: message %d = %q want %q", label, i, got[i], want[i])
		}
	}
}

type countingWriter struct {
	buf   bytes.Buffer
	calls int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return w.buf.Write(p)
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) - 1, nil
}

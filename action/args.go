// Package action implements the runtime-support server's action
// surface: the fixed set of named operations a locality exposes to its
// peers and to its own local driver, each taking a flat sequence of
// positional arguments rather than a named-field message.
package action

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer builds a positional argument payload. Arguments have no field
// tags; the receiver must read them back in the same order they were
// written, which is the contract every action handler documents.
type Writer struct{ buf []byte }

// NewWriter returns an empty argument writer.
func NewWriter() *Writer { return &Writer{} }

func (w *Writer) Uint64(v uint64) *Writer {
	w.buf = protowire.AppendVarint(w.buf, v)
	return w
}

func (w *Writer) Bool(v bool) *Writer {
	var u uint64
	if v {
		u = 1
	}
	return w.Uint64(u)
}

func (w *Writer) String(v string) *Writer {
	w.buf = protowire.AppendString(w.buf, v)
	return w
}

func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes a positional argument payload written by Writer.
type Reader struct{ buf []byte }

// NewReader wraps a payload for sequential reading.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

func (r *Reader) Uint64() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		return 0, fmt.Errorf("action: malformed uint64 argument")
	}
	r.buf = r.buf[n:]
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint64()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) String() (string, error) {
	v, n := protowire.ConsumeString(r.buf)
	if n < 0 {
		return "", fmt.Errorf("action: malformed string argument")
	}
	r.buf = r.buf[n:]
	return v, nil
}

// Done reports whether every argument in the payload has been consumed.
func (r *Reader) Done() bool { return len(r.buf) == 0 }

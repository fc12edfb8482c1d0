// Package frame implements the newline-delimited JSON framing used on every
// connection: one JSON object per line, UTF-8, terminated by a single '\n'.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pario-ai/linecompute/pkg/models"
)

// DefaultMaxFrameSize bounds how many bytes may be buffered while waiting
// for a delimiter.
const DefaultMaxFrameSize = 1024 * 1024

var (
	// ErrMalformedMessage matches every frame that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrFrameTooLarge is the cause of a MalformedError when no delimiter
	// arrives within the size limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// MalformedError reports a frame that is not a single JSON object.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return "malformed message: " + e.Err.Error() }

func (e *MalformedError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMalformedMessage.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedMessage }

// Encode serializes v as a single frame. JSON string escaping guarantees the
// only raw newline is the trailing delimiter.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Write encodes v and writes it to w as one frame.
func Write(w io.Writer, v any) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Decode parses one line (without its delimiter) into a Message.
func Decode(line []byte) (models.Message, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedError{Err: errors.New("unexpected data after JSON value")}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedError{Err: fmt.Errorf("expected a JSON object, got %s", kind(v))}
	}
	return models.Message(obj), nil
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case json.Number:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Decoder accumulates bytes and splits them into frames. It never blocks:
// Next only inspects what has already been fed.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a Decoder that rejects partial frames longer than max
// bytes. A non-positive max selects DefaultMaxFrameSize.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	return &Decoder{max: max}
}

// Feed appends received bytes to the buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete message. ok is false when no delimiter has
// been seen yet; bytes after the delimiter stay buffered for the next call.
// Blank lines are skipped and a trailing '\r' is tolerated.
func (d *Decoder) Next() (msg models.Message, ok bool, err error) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			if len(d.buf) > d.max {
				return nil, false, &MalformedError{Err: fmt.Errorf("%w (%d bytes without a delimiter)", ErrFrameTooLarge, len(d.buf))}
			}
			return nil, false, nil
		}

		line := bytes.TrimSuffix(d.buf[:i], []byte{'\r'})
		blank := len(bytes.TrimSpace(line)) == 0
		if !blank {
			msg, err = Decode(line)
		}
		d.buf = append(d.buf[:0], d.buf[i+1:]...)
		if blank {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return msg, true, nil
	}
}

// Partial reports whether a non-blank, undelimited fragment is buffered.
func (d *Decoder) Partial() bool {
	return len(bytes.TrimSpace(d.buf)) > 0
}

// Reader pulls frames from a byte stream, blocking until one is complete.
type Reader struct {
	r   io.Reader
	dec *Decoder
	buf []byte
}

// NewReader wraps r. max has the same meaning as for NewDecoder.
func NewReader(r io.Reader, max int) *Reader {
	return &Reader{r: r, dec: NewDecoder(max), buf: make([]byte, 4096)}
}

// Read returns the next message. It returns io.EOF when the stream ends
// cleanly between frames and io.ErrUnexpectedEOF when it ends mid-frame.
func (r *Reader) Read() (models.Message, error) {
	for {
		msg, ok, err := r.dec.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			return msg, nil
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.dec.Feed(r.buf[:n])
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		if msg, ok, derr := r.dec.Next(); derr != nil || ok {
			return msg, derr
		}
		if r.dec.Partial() {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, io.EOF
	}
}

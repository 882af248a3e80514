package jamn

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"golang.org/x/text/encoding"
)

// ErrResponseSent is returned when a response is sent a second time.
var ErrResponseSent = errors.New("response already sent")

type flusher interface {
	Flush() error
}

// Response accumulates the header and body of one HTTP response and writes
// them to the connection on Send. Response implements io.Writer; written bytes
// are buffered as body content.
type Response struct {
	header    *Header
	content   bytes.Buffer
	w         io.Writer
	encoding  encoding.Encoding
	processed bool
	context   []string
}

// NewResponse creates a response writing to w. The header starts with a 200
// status and a text/plain content type.
func NewResponse(w io.Writer) *Response {
	r := &Response{header: NewHeader(), w: w}
	r.header.Set(FieldContentType, ContentTypeTextPlain)
	return r
}

func newResponse(w io.Writer, enc encoding.Encoding) *Response {
	r := NewResponse(w)
	r.encoding = enc
	return r
}

// Header returns the mutable response header.
func (r *Response) Header() *Header { return r.header }

func (r *Response) SetStatus(status Status) { r.header.SetStatus(status) }
func (r *Response) Status() Status { return r.header.Status() }
func (r *Response) SetContentType(contentType string) { r.header.Set(FieldContentType, contentType) }

// Write appends p to the body content.
func (r *Response) Write(p []byte) (int, error) {
	return r.content.Write(p)
}

// WriteString appends s to the body content.
func (r *Response) WriteString(s string) (int, error) {
	return r.content.WriteString(s)
}

// Content returns the buffered body content.
func (r *Response) Content() []byte { return r.content.Bytes() }

// ResetContent discards buffered body content.
func (r *Response) ResetContent() { r.content.Reset() }

// SetProcessed marks the response as fully handled, so the server neither
// dispatches the request to a provider nor sends the response itself.
func (r *Response) SetProcessed() { r.processed = true }

// IsProcessed reports whether the response has been sent or marked processed.
func (r *Response) IsProcessed() bool { return r.processed }

// AddContext records a diagnostic string that is attached to log entries for
// this response.
func (r *Response) AddContext(s string) { r.context = append(r.context, s) }

// Context returns the diagnostic strings recorded with AddContext.
func (r *Response) Context() []string { return r.context }

// Send writes the header and buffered body and flushes the underlying writer.
// Content-Length is computed from the buffered body and only set when the body
// is not empty.
func (r *Response) Send() error {
	if r.processed {
		return ErrResponseSent
	}
	r.processed = true

	r.header.Del(FieldContentLength)
	if r.content.Len() > 0 {
		r.header.Set(FieldContentLength, strconv.Itoa(r.content.Len()))
	}

	headerBytes := []byte(r.header.String())
	if r.encoding != nil {
		encoded, err := r.encoding.NewEncoder().Bytes(headerBytes)
		if err != nil {
			return err
		}
		headerBytes = encoded
	}

	if _, err := r.w.Write(headerBytes); err != nil {
		return err
	}
	if r.content.Len() > 0 {
		if _, err := r.w.Write(r.content.Bytes()); err != nil {
			return err
		}
	}
	if f, ok := r.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// SendStatus discards any buffered body and sends an empty response with the
// given status.
func (r *Response) SendStatus(status Status) error {
	r.content.Reset()
	r.header.SetStatus(status)
	return r.Send()
}

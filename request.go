package jamn

import (
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Request is one HTTP request read from a connection. Its header is
// read-only. The body is kept exactly as it was read; Body decodes it with
// the request's text encoding on first use.
type Request struct {
	header *Header
	body   []byte

	encodingName string
	encoding     encoding.Encoding

	decodeOnce sync.Once
	text       string
}

// NewRequest creates a UTF-8 request from a parsed header and the raw body
// bytes.
func NewRequest(header *Header, body []byte) *Request {
	return &Request{
		header:       header,
		body:         body,
		encodingName: "UTF-8",
		encoding:     unicode.UTF8,
	}
}

func (r *Request) Header() *Header { return r.header }
func (r *Request) Method() string { return r.header.Method() }
func (r *Request) Path() string { return r.header.Path() }
func (r *Request) ContentType() string { return r.header.ContentType() }

// BodyBytes returns the body bytes as read from the connection.
func (r *Request) BodyBytes() []byte { return r.body }

// Body returns the body decoded with the request's text encoding, or the
// raw bytes as a string when decoding fails.
func (r *Request) Body() string {
	r.decodeOnce.Do(func() {
		if len(r.body) == 0 {
			return
		}
		decoded, err := r.encoding.NewDecoder().Bytes(r.body)
		if err != nil {
			r.text = string(r.body)
			return
		}
		r.text = string(decoded)
	})
	return r.text
}

// ContentLength returns the Content-Length declared by the request header.
func (r *Request) ContentLength() int { return r.header.ContentLength() }

// Encoding returns the name of the text encoding used by Body.
func (r *Request) Encoding() string { return r.encodingName }

// IsMethod reports whether the request method equals method, ignoring case.
func (r *Request) IsMethod(method string) bool { return r.header.IsMethod(method) }

// HasContentType reports whether the request's Content-Type contains
// contentType.
func (r *Request) HasContentType(contentType string) bool {
	return r.header.HasContentType(contentType)
}

func (r *Request) setEncoding(name string, enc encoding.Encoding) {
	r.encodingName = name
	r.encoding = enc
}

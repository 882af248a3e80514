package jamn

import (
	"io"
	"strconv"
	"strings"
)

// ServerIdentity is the value of the Server field on every response header
// created with NewHeader.
const ServerIdentity = "Jamn/0.1"

// CRLF is the line separator used throughout the wire format.
const CRLF = "\r\n"

// Header field names used by the server and its providers.
const (
	FieldServer                        = "Server"
	FieldHost                          = "Host"
	FieldOrigin                        = "Origin"
	FieldConnection                    = "Connection"
	FieldContentType                   = "Content-Type"
	FieldContentLength                 = "Content-Length"
	FieldCookie                        = "Cookie"
	FieldSetCookie                     = "Set-Cookie"
	FieldAuthorization                 = "Authorization"
	FieldUpgrade                       = "Upgrade"
	FieldSecWebSocketKey               = "Sec-WebSocket-Key"
	FieldSecWebSocketAccept            = "Sec-WebSocket-Accept"
	FieldAccessControlAllowOrigin      = "Access-Control-Allow-Origin"
	FieldAccessControlAllowMethods     = "Access-Control-Allow-Methods"
	FieldAccessControlAllowHeaders     = "Access-Control-Allow-Headers"
	FieldAccessControlAllowCredentials = "Access-Control-Allow-Credentials"
)

// Common header field values.
const (
	ValueKeepAlive = "keep-alive"
	ValueClose     = "close"
	ValueUpgrade   = "Upgrade"
	ValueWebSocket = "websocket"

	ContentTypeTextPlain   = "text/plain"
	ContentTypeTextHTML    = "text/html"
	ContentTypeJSON        = "application/json"
	ContentTypeMsgPack     = "application/msgpack"
	ContentTypeOctetStream = "application/octet-stream"
)

// Field is a single header field as it appears on the wire.
type Field struct {
	Name  string
	Value string
}

// Header is the structured form of an HTTP header block: a status line, an
// ordered set of fields and, for responses, a list of Set-Cookie values.
//
// Field names are kept exactly as received or set. Lookups fall back to a
// case-insensitive match so that "Sec-Websocket-Key" finds "Sec-WebSocket-Key".
// Setting a field that already exists replaces its value in place.
type Header struct {
	method   string
	path     string
	version  string
	status   Status
	names    []string
	values   map[string]string
	cookies  []string
	readOnly bool
}

// NewHeader creates a response header with an HTTP/1.1 200 status line and the
// Server field set.
func NewHeader() *Header {
	h := &Header{
		version: "1.1",
		status:  StatusOK,
		values:  map[string]string{},
	}
	h.Set(FieldServer, ServerIdentity)
	return h
}

// ParseHeader builds a read-only request header from the text of a header
// block. The first line is the status line; every following line containing a
// colon becomes a field. Lines that do not fit either form are ignored.
func ParseHeader(text string) *Header {
	h := &Header{values: map[string]string{}}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if i == 0 {
			h.parseStatusLine(line)
			continue
		}
		name, rest, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		parts := strings.Split(rest, ":")
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}
		h.Set(name, strings.Join(parts, ":"))
	}

	h.readOnly = true
	return h
}

func (h *Header) parseStatusLine(line string) {
	for i, token := range strings.Fields(line) {
		switch {
		case i == 0:
			h.method = strings.ToUpper(token)
		case strings.HasPrefix(strings.ToUpper(token), "HTTP/"):
			h.version = token[len("HTTP/"):]
		case h.path == "" && strings.Contains(token, "/"):
			h.path = token
		}
	}
}

// Method returns the upper-cased request method.
func (h *Header) Method() string { return h.method }

// Path returns the request path token, or an empty string if the status line
// carried none.
func (h *Header) Path() string { return h.path }

// Version returns the protocol version without the "HTTP/" prefix, for
// example "1.1".
func (h *Header) Version() string { return h.version }

// IsMethod reports whether the request method equals method, ignoring case.
func (h *Header) IsMethod(method string) bool {
	return strings.EqualFold(h.method, method)
}

// SetVersion sets the protocol version written in the status line.
func (h *Header) SetVersion(version string) {
	h.version = strings.TrimPrefix(version, "HTTP/")
}

// SetStatus sets the response status.
func (h *Header) SetStatus(status Status) {
	h.status = status
}

// Status returns the response status.
func (h *Header) Status() Status { return h.status }

// StatusLine returns the first line of the header block without a line
// terminator.
func (h *Header) StatusLine() string {
	if h.method != "" {
		line := h.method
		if h.path != "" {
			line += " " + h.path
		}
		if h.version != "" {
			line += " HTTP/" + h.version
		}
		return line
	}
	return "HTTP/" + h.version + " " + h.status.String()
}

func (h *Header) lookup(name string) (string, bool) {
	if _, ok := h.values[name]; ok {
		return name, true
	}
	for _, n := range h.names {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

// Get returns the value of the named field. If the field is absent the first
// default is returned, or an empty string when none is given.
func (h *Header) Get(name string, def ...string) string {
	if key, ok := h.lookup(name); ok {
		return h.values[key]
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

// Set sets the named field. Set panics if the header is read-only, which is
// the case for every header produced by ParseHeader.
func (h *Header) Set(name, value string) {
	if h.readOnly {
		panic("jamn: cannot set field " + name + " on a read-only header")
	}
	if key, ok := h.lookup(name); ok {
		h.values[key] = value
		return
	}
	h.names = append(h.names, name)
	h.values[name] = value
}

// Del removes the named field if present.
func (h *Header) Del(name string) {
	if h.readOnly {
		panic("jamn: cannot delete field " + name + " on a read-only header")
	}
	key, ok := h.lookup(name)
	if !ok {
		return
	}
	delete(h.values, key)
	for i, n := range h.names {
		if n == key {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Has reports whether the named field's value equals, or contains, value.
// Both comparisons ignore case.
func (h *Header) Has(name, value string) bool {
	fieldValue := strings.ToLower(h.Get(name))
	value = strings.ToLower(value)
	return fieldValue == value || strings.Contains(fieldValue, value)
}

// Fields returns the fields in the order they were first set.
func (h *Header) Fields() []Field {
	fields := make([]Field, 0, len(h.names))
	for _, name := range h.names {
		fields = append(fields, Field{Name: name, Value: h.values[name]})
	}
	return fields
}

// Len returns the number of fields.
func (h *Header) Len() int { return len(h.names) }

// AddSetCookie appends a value written as a Set-Cookie line.
func (h *Header) AddSetCookie(value string) {
	h.cookies = append(h.cookies, value)
}

// SetCookies returns the Set-Cookie values in the order they were added.
func (h *Header) SetCookies() []string { return h.cookies }

func (h *Header) Host() string { return h.Get(FieldHost) }
func (h *Header) Origin() string { return h.Get(FieldOrigin) }
func (h *Header) Cookie() string { return h.Get(FieldCookie) }
func (h *Header) Authorization() string { return h.Get(FieldAuthorization) }
func (h *Header) ContentType() string { return h.Get(FieldContentType) }
func (h *Header) WebSocketKey() string { return h.Get(FieldSecWebSocketKey) }

// BearerToken returns the token of a "Bearer" authorization field, or an
// empty string.
func (h *Header) BearerToken() string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h.Authorization()), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ContentLength returns the declared Content-Length, or 0 if it is absent or
// not a positive number.
func (h *Header) ContentLength() int {
	n, err := strconv.Atoi(strings.TrimSpace(h.Get(FieldContentLength)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HasContentType reports whether the Content-Type field contains contentType.
func (h *Header) HasContentType(contentType string) bool {
	return h.Has(FieldContentType, contentType)
}

// IsWebSocket reports whether the header is a WebSocket upgrade request, that
// is whether it carries a non-empty Sec-WebSocket-Key field.
func (h *Header) IsWebSocket() bool {
	return strings.TrimSpace(h.WebSocketKey()) != ""
}

// KeepAliveRequested reports whether the Connection field asks for
// keep-alive.
func (h *Header) KeepAliveRequested() bool {
	return h.Has(FieldConnection, ValueKeepAlive)
}

// SetAllowAllCORS sets permissive CORS fields allowing any origin, method and
// header.
func (h *Header) SetAllowAllCORS() {
	h.Set(FieldAccessControlAllowOrigin, "*")
	h.Set(FieldAccessControlAllowMethods, "*")
	h.Set(FieldAccessControlAllowHeaders, "*")
}

// IsLocalhost reports whether host names the loopback interface.
func IsLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.HasPrefix(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "[::1]")
}

// String returns the serialized header block including the terminating blank
// line.
func (h *Header) String() string {
	var b strings.Builder
	b.WriteString(h.StatusLine())
	b.WriteString(CRLF)
	for _, name := range h.names {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(h.values[name])
		b.WriteString(CRLF)
	}
	for _, cookie := range h.cookies {
		b.WriteString(FieldSetCookie)
		b.WriteString(": ")
		b.WriteString(cookie)
		b.WriteString(CRLF)
	}
	b.WriteString(CRLF)
	return b.String()
}

// WriteTo writes the serialized header block to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, h.String())
	return int64(n), err
}

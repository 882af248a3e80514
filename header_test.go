package jamn_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/RobertWHurst/jamn"
	"github.com/davecgh/go-spew/spew"
)

const requestText = "GET /index.html?lang=en HTTP/1.1\r\n" +
	"Host: localhost:8099\r\n" +
	"Connection: keep-alive\r\n" +
	"Origin: http://localhost:3000\r\n" +
	"Sec-Websocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Authorization: Bearer abc.def.ghi\r\n" +
	"Content-Type: application/json; charset=utf-8\r\n" +
	"Content-Length: 12\r\n" +
	"\r\n"

func TestParseHeader(t *testing.T) {
	h := jamn.ParseHeader(requestText)

	if h.Method() != "GET" || h.Path() != "/index.html?lang=en" || h.Version() != "1.1" {
		t.Errorf("unexpected status line %s", spew.Sdump(h.Method(), h.Path(), h.Version()))
	}
	if h.Host() != "localhost:8099" {
		t.Errorf("unexpected host %q", h.Host())
	}
	if h.Origin() != "http://localhost:3000" {
		t.Errorf("expected colons in values to survive, got %q", h.Origin())
	}
	if h.WebSocketKey() != "dGhlIHNhbXBsZSBub25jZQ==" || !h.IsWebSocket() {
		t.Errorf("expected a case-insensitive key lookup, got %q", h.WebSocketKey())
	}
	if h.BearerToken() != "abc.def.ghi" {
		t.Errorf("unexpected bearer token %q", h.BearerToken())
	}
	if h.ContentLength() != 12 {
		t.Errorf("unexpected content length %d", h.ContentLength())
	}
	if !h.HasContentType("APPLICATION/JSON") {
		t.Error("expected a case-insensitive content type match")
	}
	if !h.KeepAliveRequested() {
		t.Error("expected keep-alive")
	}
	if h.Len() != 7 {
		t.Errorf("expected 7 fields, got %d", h.Len())
	}
}

func TestParseHeaderSkipsMalformedLines(t *testing.T) {
	h := jamn.ParseHeader("post /submit HTTP/1.0\r\nno colon here\r\n: empty name\r\nX-Key:  spaced  \r\n")

	if h.Method() != "POST" || h.Version() != "1.0" {
		t.Errorf("unexpected status line %q", h.StatusLine())
	}
	fields := h.Fields()
	if len(fields) != 1 || fields[0].Name != "X-Key" || fields[0].Value != "spaced" {
		t.Errorf("unexpected fields %s", spew.Sdump(fields))
	}
}

func TestParseHeaderIsReadOnly(t *testing.T) {
	h := jamn.ParseHeader(requestText)
	defer func() {
		if recover() == nil {
			t.Error("expected Set on a parsed header to panic")
		}
	}()
	h.Set("X-Test", "1")
}

func TestHeaderRoundTrip(t *testing.T) {
	h := jamn.ParseHeader(requestText)
	again := jamn.ParseHeader(h.String())

	if h.StatusLine() != again.StatusLine() {
		t.Errorf("status line changed: %q != %q", h.StatusLine(), again.StatusLine())
	}
	if spew.Sdump(h.Fields()) != spew.Sdump(again.Fields()) {
		t.Errorf("fields changed:\n%s\n%s", spew.Sdump(h.Fields()), spew.Sdump(again.Fields()))
	}
}

func TestNewHeader(t *testing.T) {
	h := jamn.NewHeader()

	if h.StatusLine() != "HTTP/1.1 200 OK" {
		t.Errorf("unexpected status line %q", h.StatusLine())
	}
	if h.Get(jamn.FieldServer) != jamn.ServerIdentity {
		t.Errorf("expected the server field, got %q", h.Get(jamn.FieldServer))
	}

	h.SetStatus(jamn.StatusNotFound)
	h.SetVersion("HTTP/1.0")
	if h.StatusLine() != "HTTP/1.0 404 Not Found" {
		t.Errorf("unexpected status line %q", h.StatusLine())
	}
}

func TestHeaderSetReplacesInPlace(t *testing.T) {
	h := jamn.NewHeader()
	h.Set("Content-Type", "text/plain")
	h.Set("X-One", "1")
	h.Set("content-type", "text/html")

	fields := h.Fields()
	if len(fields) != 3 || fields[1].Name != "Content-Type" || fields[1].Value != "text/html" {
		t.Errorf("unexpected fields %s", spew.Sdump(fields))
	}

	h.Del("X-ONE")
	if h.Len() != 2 || h.Get("X-One", "gone") != "gone" {
		t.Errorf("expected X-One to be removed, got %s", spew.Sdump(h.Fields()))
	}
}

func TestHeaderString(t *testing.T) {
	h := jamn.NewHeader()
	h.Set(jamn.FieldContentType, jamn.ContentTypeTextPlain)
	h.AddSetCookie("a=1; HttpOnly")
	h.AddSetCookie("b=2")

	expected := "HTTP/1.1 200 OK\r\n" +
		"Server: Jamn/0.1\r\n" +
		"Content-Type: text/plain\r\n" +
		"Set-Cookie: a=1; HttpOnly\r\n" +
		"Set-Cookie: b=2\r\n" +
		"\r\n"
	if h.String() != expected {
		t.Errorf("unexpected header:\n%q\nexpected:\n%q", h.String(), expected)
	}

	buf := &bytes.Buffer{}
	n, err := h.WriteTo(buf)
	if err != nil || int(n) != len(expected) || buf.String() != expected {
		t.Errorf("unexpected WriteTo result %d %v %q", n, err, buf.String())
	}
}

func TestHeaderContentLength(t *testing.T) {
	tests := map[string]int{
		"":     0,
		"42":   42,
		" 7 ":  7,
		"-3":   0,
		"many": 0,
	}
	for value, expected := range tests {
		h := jamn.NewHeader()
		if value != "" {
			h.Set(jamn.FieldContentLength, value)
		}
		if got := h.ContentLength(); got != expected {
			t.Errorf("ContentLength for %q = %d, expected %d", value, got, expected)
		}
	}
}

func TestIsLocalhost(t *testing.T) {
	for _, host := range []string{"localhost", "localhost:8099", "127.0.0.1:80", "[::1]:8099", " LOCALHOST "} {
		if !jamn.IsLocalhost(host) {
			t.Errorf("expected %q to be local", host)
		}
	}
	for _, host := range []string{"example.com", "10.0.0.1", ""} {
		if jamn.IsLocalhost(host) {
			t.Errorf("did not expect %q to be local", host)
		}
	}
}

func TestSetAllowAllCORS(t *testing.T) {
	h := jamn.NewHeader()
	h.SetAllowAllCORS()
	if !strings.Contains(h.String(), "Access-Control-Allow-Origin: *\r\n") {
		t.Errorf("expected CORS fields, got %q", h.String())
	}
}

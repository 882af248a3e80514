package jamn

import (
	"bufio"
	"net"
	"time"
)

// Conn is an accepted connection together with the buffered reader and
// writer the server uses on it. Upgrade providers must read through Conn
// rather than the embedded net.Conn, since the reader may already hold bytes
// sent right after the upgrade request.
type Conn struct {
	net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// NewConn wraps c.
func NewConn(c net.Conn) *Conn {
	return &Conn{
		Conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}
}

// Read reads buffered data from the connection.
func (c *Conn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

// Write writes p and flushes it to the connection.
func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.writer.Flush()
}

// Reader returns the buffered reader of the connection.
func (c *Conn) Reader() *bufio.Reader { return c.reader }

// Writer returns the buffered writer of the connection. Data written to it is
// only sent on Flush.
func (c *Conn) Writer() *bufio.Writer { return c.writer }

// Flush sends buffered output.
func (c *Conn) Flush() error { return c.writer.Flush() }

// ConnInfo describes a connection for diagnostics. The server fills it in as
// the connection is processed; upgrade providers may update it.
type ConnInfo struct {
	ID         string
	RemoteAddr string
	Accepted   time.Time
	// Usage counts the requests served on the connection.
	Usage int
	// LastError is the text of the last error raised while processing the
	// connection.
	LastError string
	// Upgraded is set by the upgrade provider once the connection has switched
	// protocols.
	Upgraded bool
}

func closeConn(c net.Conn) error {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return c.Close()
}

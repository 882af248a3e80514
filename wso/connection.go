package wso

import (
	"errors"
	"io"
	"sync"
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = errors.New("websocket connection closed")

// Connection is an upgraded WebSocket connection. Writes are serialized, so a
// connection may be sent to from any goroutine.
type Connection struct {
	id         string
	path       string
	remoteAddr string

	mu     sync.Mutex
	rw     io.WriteCloser
	closed bool
}

// NewConnection creates a connection writing frames to rw.
func NewConnection(id, path, remoteAddr string, rw io.WriteCloser) *Connection {
	return &Connection{
		id:         id,
		path:       path,
		remoteAddr: remoteAddr,
		rw:         rw,
	}
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) Path() string { return c.path }
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Send sends payload as one text frame.
func (c *Connection) Send(payload []byte) error {
	return c.sendRaw(EncodeText(payload))
}

func (c *Connection) sendRaw(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	_, err := c.rw.Write(frame)
	return err
}

// Close closes the underlying connection. The read loop serving the
// connection ends once its pending read fails.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.rw.Close()
}

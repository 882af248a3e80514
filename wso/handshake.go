package wso

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/RobertWHurst/jamn"
)

// GUID is appended to the client key when computing the accept key.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake rejections. Both are security errors, so the server answers the
// upgrade request with 403 and closes the connection.
var (
	ErrUnsupportedPath = fmt.Errorf("%w: unsupported websocket path", jamn.ErrSecurity)
	ErrAccessDenied    = fmt.Errorf("%w: websocket access denied", jamn.ErrSecurity)
)

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(clientKey string) string {
	digest := sha1.Sum([]byte(clientKey + GUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// AccessController approves or rejects upgrade requests by their header.
// Returning an error rejects the upgrade.
type AccessController interface {
	CheckAccess(header *jamn.Header) error
}

// AccessControllerFunc adapts a function to the AccessController interface.
type AccessControllerFunc func(header *jamn.Header) error

func (f AccessControllerFunc) CheckAccess(header *jamn.Header) error {
	return f(header)
}

// handshake checks an upgrade request and answers it with 101 Switching
// Protocols.
func (p *Provider) handshake(req *jamn.Request, conn *jamn.Conn) error {
	if !p.IsConnectionPath(req.Path()) {
		return fmt.Errorf("%w: %s", ErrUnsupportedPath, req.Path())
	}
	p.mu.RLock()
	access := p.access
	p.mu.RUnlock()
	if access != nil {
		if err := access.CheckAccess(req.Header()); err != nil {
			return fmt.Errorf("%w: %s", ErrAccessDenied, err)
		}
	}

	res := jamn.NewResponse(conn.Writer())
	header := res.Header()
	header.Del(jamn.FieldContentType)
	header.SetVersion("HTTP/1.1")
	header.SetStatus(jamn.StatusSwitchingProtocols)
	header.Set(jamn.FieldConnection, jamn.ValueUpgrade)
	header.Set(jamn.FieldUpgrade, jamn.ValueWebSocket)
	header.Set(jamn.FieldSecWebSocketAccept, AcceptKey(req.Header().WebSocketKey()))

	if err := res.Send(); err != nil {
		failed := jamn.NewResponse(conn.Writer())
		failed.Header().Set(jamn.FieldConnection, jamn.ValueClose)
		_ = failed.SendStatus(jamn.StatusInternalServerError)
		return fmt.Errorf("websocket handshake failed: %w", err)
	}
	return nil
}

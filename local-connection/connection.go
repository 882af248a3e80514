// Package localconnection links registries living in the same process. It is
// mostly useful for tests and for servers that run several WebSocket
// providers side by side.
package localconnection

import (
	"sync"

	"github.com/RobertWHurst/jamn/wso"
)

type announceHandler func(instanceID string, connectionID string)

type Connection struct {
	mu                    sync.RWMutex
	announceOpenHandlers  map[string]announceHandler
	announceCloseHandlers map[string]announceHandler
	dispatchHandlers      map[string]func(string, []byte) bool
}

var _ wso.Interconnect = &Connection{}

func New() *Connection {
	return &Connection{
		announceOpenHandlers:  map[string]announceHandler{},
		announceCloseHandlers: map[string]announceHandler{},
		dispatchHandlers:      map[string]func(string, []byte) bool{},
	}
}

func (c *Connection) Unbind(instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.announceOpenHandlers, instanceID)
	delete(c.announceCloseHandlers, instanceID)
	delete(c.dispatchHandlers, instanceID)
	return nil
}

func snapshot(handlers map[string]announceHandler) []announceHandler {
	out := make([]announceHandler, 0, len(handlers))
	for _, handler := range handlers {
		out = append(out, handler)
	}
	return out
}

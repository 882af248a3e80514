package localconnection

import (
	"fmt"

	"github.com/RobertWHurst/jamn/wso"
)

func (c *Connection) Dispatch(instanceID string, connectionID string, payload []byte) error {
	c.mu.RLock()
	handler, ok := c.dispatchHandlers[instanceID]
	c.mu.RUnlock()

	if !ok || !handler(connectionID, payload) {
		return fmt.Errorf("%w: %s", wso.ErrConnectionNotFound, connectionID)
	}
	return nil
}

func (c *Connection) BindDispatch(instanceID string, handler func(connectionID string, payload []byte) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchHandlers[instanceID] = handler
	return nil
}

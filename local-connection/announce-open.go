package localconnection

func (c *Connection) AnnounceOpen(instanceID string, connectionID string) error {
	c.mu.RLock()
	handlers := snapshot(c.announceOpenHandlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(instanceID, connectionID)
	}
	return nil
}

func (c *Connection) BindOpenAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announceOpenHandlers[instanceID] = handler
	return nil
}

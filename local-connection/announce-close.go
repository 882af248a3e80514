package localconnection

func (c *Connection) AnnounceClose(instanceID string, connectionID string) error {
	c.mu.RLock()
	handlers := snapshot(c.announceCloseHandlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(instanceID, connectionID)
	}
	return nil
}

func (c *Connection) BindCloseAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announceCloseHandlers[instanceID] = handler
	return nil
}

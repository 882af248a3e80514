package natsconnection

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

func (c *Connection) AnnounceClose(instanceID string, connectionID string) error {
	messageBytes, err := json.Marshal(ConnectionIDs{
		InstanceID:   instanceID,
		ConnectionID: connectionID,
	})
	if err != nil {
		return err
	}
	return c.NatsConnection.Publish(subject("close"), messageBytes)
}

func (c *Connection) BindCloseAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error {
	sub, err := c.NatsConnection.Subscribe(subject("close"), func(msg *nats.Msg) {
		ids := &ConnectionIDs{}
		if err := json.Unmarshal(msg.Data, ids); err != nil {
			return
		}
		handler(ids.InstanceID, ids.ConnectionID)
	})
	if err != nil {
		return err
	}
	c.track(instanceID, sub)
	return nil
}

package natsconnection

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

func (c *Connection) AnnounceOpen(instanceID string, connectionID string) error {
	messageBytes, err := json.Marshal(ConnectionIDs{
		InstanceID:   instanceID,
		ConnectionID: connectionID,
	})
	if err != nil {
		return err
	}
	return c.NatsConnection.Publish(subject("open"), messageBytes)
}

func (c *Connection) BindOpenAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error {
	sub, err := c.NatsConnection.Subscribe(subject("open"), func(msg *nats.Msg) {
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

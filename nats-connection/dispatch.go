package natsconnection

import (
	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

type DispatchMessage struct {
	ConnectionID string `json:"connectionId"`
	Message      []byte `json:"message"`
}

// Dispatch publishes payload for delivery by the instance holding the
// connection. Delivery is fire and forget.
func (c *Connection) Dispatch(instanceID string, connectionID string, payload []byte) error {
	messageBytes, err := json.Marshal(&DispatchMessage{
		ConnectionID: connectionID,
		Message:      payload,
	})
	if err != nil {
		return err
	}
	return c.NatsConnection.Publish(subject("dispatch", instanceID), messageBytes)
}

func (c *Connection) BindDispatch(instanceID string, handler func(connectionID string, payload []byte) bool) error {
	sub, err := c.NatsConnection.Subscribe(subject("dispatch", instanceID), func(msg *nats.Msg) {
		dispatchMessage := &DispatchMessage{}
		if err := json.Unmarshal(msg.Data, dispatchMessage); err != nil {
			return
		}
		handler(dispatchMessage.ConnectionID, dispatchMessage.Message)
	})
	if err != nil {
		return err
	}
	c.track(instanceID, sub)
	return nil
}

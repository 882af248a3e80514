// Package natsconnection links registries running in separate processes
// through a NATS server.
package natsconnection

import (
	"strings"
	"sync"

	"github.com/RobertWHurst/jamn/wso"
	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes every subject the connection publishes to.
const SubjectPrefix = "jamn.wso"

type Connection struct {
	NatsConnection *nats.Conn

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
}

var _ wso.Interconnect = &Connection{}

func New(conn *nats.Conn) *Connection {
	return &Connection{
		NatsConnection: conn,
		subs:           map[string][]*nats.Subscription{},
	}
}

type ConnectionIDs struct {
	InstanceID   string `json:"instanceId"`
	ConnectionID string `json:"connectionId"`
}

func (c *Connection) Unbind(instanceID string) error {
	c.mu.Lock()
	subs := c.subs[instanceID]
	delete(c.subs, instanceID)
	c.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Connection) track(instanceID string, sub *nats.Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[instanceID] = append(c.subs[instanceID], sub)
}

func subject(parts ...string) string {
	return SubjectPrefix + "." + strings.Join(parts, ".")
}

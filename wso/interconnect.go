package wso

// Interconnect links registries running in different server instances, so a
// message can be sent to a connection held by another instance. Each registry
// announces the connections it opens and closes, and receives dispatches for
// its own connections.
//
// Implementations are in the local-connection and nats-connection packages.
type Interconnect interface {
	AnnounceOpen(instanceID string, connectionID string) error
	BindOpenAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error

	AnnounceClose(instanceID string, connectionID string) error
	BindCloseAnnounce(instanceID string, handler func(instanceID string, connectionID string)) error

	Dispatch(instanceID string, connectionID string, payload []byte) error
	BindDispatch(instanceID string, handler func(connectionID string, payload []byte) bool) error

	// Unbind removes every handler bound for instanceID.
	Unbind(instanceID string) error
}

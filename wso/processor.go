package wso

// MessageProcessor handles the messages received on connections opened on
// one connection path. A non-empty reply is sent back on the same connection.
//
// A processor is called from the read loop of every connection on its path,
// so it is called concurrently and must guard any shared state itself.
type MessageProcessor interface {
	OnMessage(connectionID string, message []byte) []byte
}

// ErrorHandler is implemented by message processors that want to be told
// about errors on their connections. message holds whatever payload was
// received, if any. A non-empty reply is sent back; returning true for
// closeConnection ends the connection. Fatal protocol errors always end the
// connection.
type ErrorHandler interface {
	OnError(connectionID string, message []byte, err error) (reply []byte, closeConnection bool)
}

// MessageProcessorFunc adapts a function to the MessageProcessor interface.
type MessageProcessorFunc func(connectionID string, message []byte) []byte

func (f MessageProcessorFunc) OnMessage(connectionID string, message []byte) []byte {
	return f(connectionID, message)
}

package wso

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/RobertWHurst/jamn"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry errors.
var (
	ErrConnectionNotFound  = errors.New("websocket connection not found")
	ErrDuplicateConnection = errors.New("websocket connection already registered")
	ErrDuplicateProcessor  = errors.New("message processor already registered for path")
	ErrNoProcessor         = fmt.Errorf("%w: no message processor for path", jamn.ErrProtocol)
)

// Registry tracks open connections by id and routes their messages to the
// message processor registered for the connection's path. It is safe for
// concurrent use.
//
// With an Interconnect set, the registry also knows the connections held by
// other instances and forwards sends to them.
type Registry struct {
	mu     sync.RWMutex
	linkMu sync.Mutex

	id           string
	connections  map[string]*Connection
	processors   map[string]MessageProcessor
	remote       map[string]string
	interconnect Interconnect

	logger  zerolog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry with a random instance id.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		id:          uuid.NewString(),
		connections: map[string]*Connection{},
		processors:  map[string]MessageProcessor{},
		remote:      map[string]string{},
		logger:      logger,
		metrics:     NewMetrics(nil),
	}
}

// ID returns the registry's instance id.
func (r *Registry) ID() string { return r.id }

// AddMessageProcessor registers processor for path. Only one processor may be
// registered per path.
func (r *Registry) AddMessageProcessor(path string, processor MessageProcessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.processors[path]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, path)
	}
	r.processors[path] = processor
	return nil
}

// MessageProcessorFor returns the processor registered for path.
func (r *Registry) MessageProcessorFor(path string) (MessageProcessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	processor, ok := r.processors[path]
	return processor, ok
}

// ConnectionEstablished adds conn under id and announces it to other
// instances.
func (r *Registry) ConnectionEstablished(id string, conn *Connection) error {
	r.mu.Lock()
	if _, ok := r.connections[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, id)
	}
	r.connections[id] = conn
	interconnect := r.interconnect
	r.mu.Unlock()

	if interconnect != nil {
		if err := interconnect.AnnounceOpen(r.id, id); err != nil {
			r.logger.Warn().Err(err).Str("conn", id).Msg("failed to announce connection")
		}
	}
	return nil
}

// ConnectionClosed removes the connection with the given id.
func (r *Registry) ConnectionClosed(id string) {
	r.mu.Lock()
	_, ok := r.connections[id]
	delete(r.connections, id)
	interconnect := r.interconnect
	r.mu.Unlock()

	if ok && interconnect != nil {
		if err := interconnect.AnnounceClose(r.id, id); err != nil {
			r.logger.Warn().Err(err).Str("conn", id).Msg("failed to announce connection close")
		}
	}
}

// Connection returns the local connection with the given id.
func (r *Registry) Connection(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// ConnectionIDs returns the ids of the local connections, sorted.
func (r *Registry) ConnectionIDs() []string {
	r.mu.RLock()
	ids := r.localIDs()
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// IsConnectionAvailable reports whether a message can be sent to id, either
// because the connection is local or because another instance announced it.
func (r *Registry) IsConnectionAvailable(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.connections[id]; ok {
		return true
	}
	_, ok := r.remote[id]
	return ok
}

// ProcessMessageFor passes message to the processor of the connection's path
// and sends back its reply, if any. A panicking processor is reported as a
// recoverable protocol error.
func (r *Registry) ProcessMessageFor(id string, message []byte) error {
	conn, ok := r.Connection(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	processor, ok := r.MessageProcessorFor(conn.Path())
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoProcessor, conn.Path())
	}

	r.metrics.MessagesReceived.Inc()

	var reply []byte
	err := jamn.Recover(func() error {
		reply = processor.OnMessage(id, message)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: message processor failed: %w", jamn.ErrProtocol, err)
	}

	if len(reply) > 0 {
		if err := conn.Send(reply); err != nil {
			return err
		}
		r.metrics.MessagesSent.Inc()
	}
	return nil
}

// ProcessErrorFor tells the processor of the connection's path about err and
// reports whether the connection must be closed. Fatal protocol errors always
// close the connection; otherwise the processor's error handler decides.
func (r *Registry) ProcessErrorFor(id string, message []byte, err error) bool {
	closeConnection := jamn.KindOf(err) == jamn.KindProtocolFatal
	r.metrics.errorRaised(err)

	conn, ok := r.Connection(id)
	if !ok {
		return true
	}
	processor, ok := r.MessageProcessorFor(conn.Path())
	if !ok {
		return closeConnection
	}
	handler, ok := processor.(ErrorHandler)
	if !ok {
		return closeConnection
	}

	var reply []byte
	var handlerClose bool
	if hookErr := jamn.Recover(func() error {
		reply, handlerClose = handler.OnError(id, message, err)
		return nil
	}); hookErr != nil {
		r.logger.Error().Err(hookErr).Str("conn", id).Msg("error handler failed")
		return true
	}

	if len(reply) > 0 {
		if sendErr := conn.Send(reply); sendErr != nil {
			r.logger.Debug().Err(sendErr).Str("conn", id).Msg("failed to send error reply")
			return true
		}
		r.metrics.MessagesSent.Inc()
	}
	return closeConnection || handlerClose
}

// SendMessageFor sends message to the connection with the given id, on this
// instance or, through the interconnect, on another.
func (r *Registry) SendMessageFor(id string, message []byte) error {
	r.mu.RLock()
	conn, isLocal := r.connections[id]
	instanceID, isRemote := r.remote[id]
	interconnect := r.interconnect
	r.mu.RUnlock()

	switch {
	case isLocal:
		if err := conn.Send(message); err != nil {
			return err
		}
	case isRemote && interconnect != nil:
		if err := interconnect.Dispatch(instanceID, id, message); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	r.metrics.MessagesSent.Inc()
	return nil
}

// SetInterconnect links the registry to other instances through
// interconnect, replacing any previous one. Local connections are announced
// on the new interconnect. Interconnect calls are made without holding the
// registry lock, since handlers of other registries may run synchronously.
func (r *Registry) SetInterconnect(interconnect Interconnect) error {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()

	r.mu.RLock()
	previous := r.interconnect
	ids := r.localIDs()
	r.mu.RUnlock()

	if previous != nil {
		for _, id := range ids {
			_ = previous.AnnounceClose(r.id, id)
		}
		if err := previous.Unbind(r.id); err != nil {
			return err
		}
		r.mu.Lock()
		r.interconnect = nil
		r.remote = map[string]string{}
		r.mu.Unlock()
	}

	if err := interconnect.BindDispatch(r.id, r.handleDispatch); err != nil {
		return err
	}
	if err := interconnect.BindOpenAnnounce(r.id, r.handleOpenAnnounce); err != nil {
		return err
	}
	if err := interconnect.BindCloseAnnounce(r.id, r.handleCloseAnnounce); err != nil {
		return err
	}

	r.mu.Lock()
	r.interconnect = interconnect
	ids = r.localIDs()
	r.mu.Unlock()

	for _, id := range ids {
		if err := interconnect.AnnounceOpen(r.id, id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) localIDs() []string {
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) handleDispatch(id string, message []byte) bool {
	conn, ok := r.Connection(id)
	if !ok {
		return false
	}
	if err := conn.Send(message); err != nil {
		r.logger.Debug().Err(err).Str("conn", id).Msg("failed to deliver dispatched message")
		return false
	}
	return true
}

func (r *Registry) handleOpenAnnounce(instanceID string, id string) {
	if instanceID == r.id {
		return
	}
	r.mu.Lock()
	r.remote[id] = instanceID
	r.mu.Unlock()
}

func (r *Registry) handleCloseAnnounce(instanceID string, id string) {
	if instanceID == r.id {
		return
	}
	r.mu.Lock()
	delete(r.remote, id)
	r.mu.Unlock()
}

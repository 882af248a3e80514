package wso

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RobertWHurst/jamn"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPath is the connection path every provider accepts unless it is
// removed with SetConnectionPaths.
const DefaultPath = "/wsoapi"

// ErrUnknownPath is returned when a message processor is registered for a
// path that is not a connection path.
var ErrUnknownPath = errors.New("not a websocket connection path")

// ErrUpgradeRequired is returned by HandleContent for requests that are not
// upgrade requests.
var ErrUpgradeRequired = fmt.Errorf("%w: websocket upgrade required", jamn.ErrProtocol)

// Provider handles WebSocket upgrade requests. Register it with the server
// under jamn.WebSocketProviderID. After the handshake it reads frames from the
// connection for as long as it is open and passes complete messages to the
// message processor registered for the connection's path.
type Provider struct {
	mu         sync.RWMutex
	paths      map[string]struct{}
	access     AccessController
	maxPayload int64

	registry *Registry
	logger   zerolog.Logger
	metrics  *Metrics
}

var _ jamn.UpgradeProvider = &Provider{}

// NewProvider creates a provider accepting connections on DefaultPath, with
// the payload cap, logger and metrics registerer taken from config.
func NewProvider(config jamn.Config) *Provider {
	logger := config.Logger.With().Str("component", "wso").Logger()
	metrics := NewMetrics(config.MetricsRegisterer)

	registry := NewRegistry(logger)
	registry.metrics = metrics

	return &Provider{
		paths:      map[string]struct{}{DefaultPath: {}},
		maxPayload: config.WebSocketMaxPayload,
		registry:   registry,
		logger:     logger,
		metrics:    metrics,
	}
}

// Registry returns the provider's connection registry.
func (p *Provider) Registry() *Registry { return p.registry }

// Metrics returns the provider's collectors.
func (p *Provider) Metrics() *Metrics { return p.metrics }

// AddConnectionPath accepts upgrade requests on the given paths.
func (p *Provider) AddConnectionPath(paths ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, path := range paths {
		p.paths[path] = struct{}{}
	}
}

// SetConnectionPaths replaces the accepted connection paths.
func (p *Provider) SetConnectionPaths(paths ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = map[string]struct{}{}
	for _, path := range paths {
		p.paths[path] = struct{}{}
	}
}

// ConnectionPaths returns the accepted connection paths, sorted.
func (p *Provider) ConnectionPaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, 0, len(p.paths))
	for path := range p.paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// IsConnectionPath reports whether upgrade requests for path are accepted.
// A query string on path is ignored.
func (p *Provider) IsConnectionPath(path string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.paths[stripQuery(path)]
	return ok
}

// SetAccessController sets the controller approving upgrade requests. Without
// one every request on a connection path is accepted.
func (p *Provider) SetAccessController(access AccessController) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.access = access
}

// SetMaxPayload sets the largest payload accepted in a single inbound frame.
func (p *Provider) SetMaxPayload(max int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxPayload = max
}

// AddMessageProcessor registers processor for each of the given connection
// paths, or for DefaultPath when none is given.
func (p *Provider) AddMessageProcessor(processor MessageProcessor, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{DefaultPath}
	}
	for _, path := range paths {
		if !p.IsConnectionPath(path) {
			return fmt.Errorf("%w: %s", ErrUnknownPath, path)
		}
		if err := p.registry.AddMessageProcessor(path, processor); err != nil {
			return err
		}
	}
	return nil
}

// SendMessageTo sends message to a connection, on this instance or on another
// one linked through the registry's interconnect.
func (p *Provider) SendMessageTo(connectionID string, message []byte) error {
	return p.registry.SendMessageFor(connectionID, message)
}

// IsConnectionAvailable reports whether a message can be sent to
// connectionID.
func (p *Provider) IsConnectionAvailable(connectionID string) bool {
	return p.registry.IsConnectionAvailable(connectionID)
}

// HandleContent rejects ordinary requests; the provider only serves upgrades.
func (p *Provider) HandleContent(req *jamn.Request, res *jamn.Response) error {
	return ErrUpgradeRequired
}

// HandleUpgrade performs the handshake and serves the connection until it
// closes. Handshake rejections are returned before anything is written.
func (p *Provider) HandleUpgrade(req *jamn.Request, conn *jamn.Conn, info *jamn.ConnInfo) error {
	if err := p.handshake(req, conn); err != nil {
		return err
	}
	info.Upgraded = true

	path := stripQuery(req.Path())
	id := connectionID(path, conn)
	logger := p.logger.With().Str("conn", id).Logger()

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	connection := NewConnection(id, path, conn.RemoteAddr().String(), conn)
	if err := p.registry.ConnectionEstablished(id, connection); err != nil {
		return err
	}
	p.metrics.ConnectionsOpen.Inc()
	logger.Info().Str("path", path).Msg("websocket connection opened")

	defer func() {
		p.registry.ConnectionClosed(id)
		p.metrics.ConnectionsOpen.Dec()
		logger.Info().Msg("websocket connection closed")
	}()

	p.mu.RLock()
	maxPayload := p.maxPayload
	p.mu.RUnlock()

	return p.readLoop(conn, connection, maxPayload, logger)
}

// readLoop reads frames until the client closes the connection, the stream
// ends, or an error closes it.
func (p *Provider) readLoop(r io.Reader, conn *Connection, maxPayload int64, logger zerolog.Logger) error {
	var fragmented *Frame

	for {
		frame, err := ReadFrame(r, maxPayload)
		if err != nil {
			if frame == nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			logger.Debug().Err(err).Object("frame", frame).Msg("frame error")
			if p.registry.ProcessErrorFor(conn.ID(), frame.AvailableData(), err) {
				return err
			}
			continue
		}

		logger.Debug().Object("frame", frame).Msg("frame received")

		var message []byte
		switch {
		case frame.Opcode() == OpClose:
			return conn.sendRaw(frame.Raw())
		case frame.Opcode().IsControl():
			message = frame.Payload()
		case fragmented == nil && !frame.Fin():
			fragmented = frame
			continue
		case fragmented != nil:
			fragmented.AddFragment(frame)
			if !frame.Fin() {
				continue
			}
			message = fragmented.Payload()
			fragmented = nil
		default:
			message = frame.Payload()
		}

		if err := p.registry.ProcessMessageFor(conn.ID(), message); err != nil {
			logger.Debug().Err(err).Msg("message processing failed")
			if p.registry.ProcessErrorFor(conn.ID(), message, err) {
				return err
			}
		}
	}
}

func connectionID(path string, conn net.Conn) string {
	return fmt.Sprintf("%s - %s-%s", path, uuid.NewString()[:8], conn.RemoteAddr())
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

package jamn

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Config holds the options recognized by the server. Use DefaultConfig as a
// starting point; a zero Config is not valid.
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int
	// Workers is the number of connections processed concurrently.
	Workers int
	// SocketTimeout bounds each HTTP request cycle on a connection. Upgraded
	// WebSocket connections have no timeout.
	SocketTimeout time.Duration
	// KeepAlive allows connections to serve several requests when the client
	// asks for it.
	KeepAlive bool
	// Encoding is the text encoding of header blocks and bodies, given as a
	// WHATWG encoding label such as "UTF-8" or "ISO-8859-1".
	Encoding string
	// AllowAllCORS adds permissive CORS fields to responses for requests whose
	// Host is the loopback interface.
	AllowAllCORS bool
	// WebSocketMaxPayload caps the payload length of a single inbound frame.
	WebSocketMaxPayload int64
	// MaxHeaderSize caps the size of a request header block.
	MaxHeaderSize int

	Logger            zerolog.Logger
	MetricsRegisterer prometheus.Registerer
}

// DefaultConfig returns the default configuration. Logging goes to stderr and
// metrics are not registered.
func DefaultConfig() Config {
	return Config{
		Port:                8099,
		Workers:             5,
		SocketTimeout:       10 * time.Second,
		KeepAlive:           true,
		Encoding:            "UTF-8",
		WebSocketMaxPayload: 65000,
		MaxHeaderSize:       16 * 1024,
		Logger:              zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
}

// Validate reports the first invalid option, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.Workers < 1:
		return fmt.Errorf("%w: worker count must be at least 1", ErrInvalidConfig)
	case c.SocketTimeout <= 0:
		return fmt.Errorf("%w: socket timeout must be positive", ErrInvalidConfig)
	case c.WebSocketMaxPayload <= 0:
		return fmt.Errorf("%w: websocket max payload must be positive", ErrInvalidConfig)
	case c.MaxHeaderSize <= 0:
		return fmt.Errorf("%w: max header size must be positive", ErrInvalidConfig)
	}
	if _, err := c.TextEncoding(); err != nil {
		return err
	}
	return nil
}

// TextEncoding resolves the Encoding option.
func (c Config) TextEncoding() (encoding.Encoding, error) {
	enc, err := htmlindex.Get(c.Encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInvalidConfig, c.Encoding)
	}
	return enc, nil
}

// Address returns the host:port the server listens on.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

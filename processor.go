package jamn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
)

var (
	errHeaderTooLarge = fmt.Errorf("%w: header block too large", ErrProtocol)
	errNoUpgrade      = fmt.Errorf("%w: websocket upgrade not supported", ErrProtocol)
)

var headerTerminator = []byte("\r\n\r\n")

// messageProcessor runs the HTTP request cycle on a connection. It is built
// from the server's registrations when the server starts and is not modified
// afterwards.
type messageProcessor struct {
	config       Config
	encoding     encoding.Encoding
	logger       zerolog.Logger
	metrics      *Metrics
	providers    map[string]ContentProvider
	upgrader     UpgradeProvider
	dispatcher   ContentProviderDispatcher
	preprocessor MessagePreprocessor
}

// handle processes requests on conn until the connection ends, keep-alive is
// not in effect, or the connection is upgraded.
func (p *messageProcessor) handle(conn *Conn, info *ConnInfo) {
	logger := p.logger.With().Str("conn", info.ID).Logger()

	defer func() {
		if err := conn.Flush(); err != nil && info.LastError == "" {
			info.LastError = err.Error()
		}
		p.metrics.RequestsPerConnection.Observe(float64(info.Usage))
	}()

	for {
		if err := conn.SetDeadline(time.Now().Add(p.config.SocketTimeout)); err != nil {
			info.LastError = err.Error()
			return
		}

		keepAlive, err := p.cycle(conn, info, logger)
		if err != nil {
			info.LastError = err.Error()
			p.metrics.errorRaised(err)
			if KindOf(err) == KindTimeout {
				logger.Debug().Err(err).Int("usage", info.Usage).Msg("connection timed out")
			} else {
				logger.Debug().Err(err).Msg("connection ended with error")
			}
			return
		}
		if !keepAlive {
			return
		}
	}
}

// cycle reads one request, dispatches it and writes the response. It reports
// whether the connection should serve another request.
func (p *messageProcessor) cycle(conn *Conn, info *ConnInfo, logger zerolog.Logger) (bool, error) {
	res := newResponse(conn.Writer(), p.encoding)

	headerBlock, err := readHeaderBlock(conn.Reader(), p.config.MaxHeaderSize)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return false, nil
		case errors.Is(err, errHeaderTooLarge):
			res.Header().Set(FieldConnection, ValueClose)
			if sendErr := res.SendStatus(StatusBadRequest); sendErr != nil {
				return false, sendErr
			}
		}
		return false, err
	}

	headerText, err := p.decode(headerBlock)
	if err != nil {
		return false, err
	}
	header := ParseHeader(headerText)

	body, err := readBody(conn.Reader(), header.ContentLength())
	if err != nil {
		if KindOf(err) == KindTimeout {
			return false, err
		}
		logger.Warn().
			Err(err).
			Int("declared", header.ContentLength()).
			Int("read", len(body)).
			Msg("request body shorter than content length")
	}
	req := NewRequest(header, body)
	req.setEncoding(p.config.Encoding, p.encoding)

	upgrade := header.IsWebSocket()
	keepAlive := p.config.KeepAlive && header.KeepAliveRequested()
	if keepAlive && !upgrade {
		res.Header().Set(FieldConnection, ValueKeepAlive)
	} else {
		res.Header().Set(FieldConnection, ValueClose)
	}
	if p.config.AllowAllCORS && IsLocalhost(header.Host()) {
		res.Header().SetAllowAllCORS()
	}

	info.Usage++
	logger.Debug().
		Str("method", req.Method()).
		Str("path", req.Path()).
		Int("usage", info.Usage).
		Msg("request")

	upgraded, err := p.dispatch(req, res, conn, info)
	if upgraded {
		if err != nil && !info.Upgraded && KindOf(err) == KindSecurity {
			_ = res.SendStatus(StatusForbidden)
		}
		return false, err
	}

	if err != nil {
		status := statusFor(err)
		p.logFailure(logger, req, res, err, status)
		info.LastError = err.Error()
		p.metrics.errorRaised(err)
		if res.IsProcessed() {
			return false, nil
		}
		if sendErr := res.SendStatus(status); sendErr != nil {
			return false, sendErr
		}
		p.metrics.requestServed(status)
		return keepAlive, nil
	}

	if !res.IsProcessed() {
		if err := res.Send(); err != nil {
			return false, err
		}
	}
	p.metrics.requestServed(res.Status())

	return keepAlive, nil
}

// dispatch runs the preprocessor and then either hands the connection to the
// upgrade provider or calls the content provider for the request. upgraded is
// true when the connection was handed over.
func (p *messageProcessor) dispatch(req *Request, res *Response, conn *Conn, info *ConnInfo) (upgraded bool, err error) {
	if p.preprocessor != nil {
		if err := Recover(func() error { return p.preprocessor.Preprocess(req, res) }); err != nil {
			return false, err
		}
		if res.IsProcessed() {
			return false, nil
		}
	}

	if req.Header().IsWebSocket() {
		if p.upgrader == nil {
			return false, errNoUpgrade
		}
		return true, Recover(func() error { return p.upgrader.HandleUpgrade(req, conn, info) })
	}

	provider := p.resolve(req)
	return false, Recover(func() error { return provider.HandleContent(req, res) })
}

func (p *messageProcessor) resolve(req *Request) ContentProvider {
	switch len(p.providers) {
	case 0:
		return DefaultContentProvider
	case 1:
		for _, provider := range p.providers {
			return provider
		}
	}
	if provider, ok := p.providers[p.dispatcher.ProviderID(req)]; ok {
		return provider
	}
	return DefaultContentProvider
}

func (p *messageProcessor) decode(b []byte) (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	decoded, err := p.encoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: cannot decode %s text: %s", ErrProtocol, p.config.Encoding, err)
	}
	return string(decoded), nil
}

func (p *messageProcessor) logFailure(logger zerolog.Logger, req *Request, res *Response, err error, status Status) {
	event := logger.Error()
	if status < StatusInternalServerError {
		event = logger.Warn()
	}
	event = event.
		Err(err).
		Int("status", int(status)).
		Str("method", req.Method()).
		Str("path", req.Path())
	if len(res.Context()) > 0 {
		event = event.Strs("context", res.Context())
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		event = event.Str("stack", panicErr.Stack)
	}
	event.Msg("request failed")
}

func statusFor(err error) Status {
	switch KindOf(err) {
	case KindSecurity:
		return StatusForbidden
	case KindTimeout:
		return StatusRequestTimeout
	case KindProtocol, KindProtocolFatal:
		return StatusBadRequest
	default:
		return StatusInternalServerError
	}
}

// readHeaderBlock reads up to and including the blank line that ends a
// header block. If the stream ends first, the bytes read so far are returned.
// io.EOF is only returned when the stream ended before any byte was read.
func readHeaderBlock(r *bufio.Reader, max int) ([]byte, error) {
	var block []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(block) > 0 {
				return block, nil
			}
			return nil, err
		}
		block = append(block, b)
		if len(block) > max {
			return nil, errHeaderTooLarge
		}
		if b == '\n' && bytes.HasSuffix(block, headerTerminator) {
			return block, nil
		}
	}
}

// readBody reads exactly n bytes. When the stream ends early, the bytes read
// are returned along with the error.
func readBody(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	var body bytes.Buffer
	read, err := io.CopyN(&body, r, int64(n))
	if err != nil && read < int64(n) {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return body.Bytes(), err
	}
	return body.Bytes(), nil
}

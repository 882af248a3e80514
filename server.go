package jamn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Server accepts connections and processes each on a pooled worker. Content
// providers, the dispatcher and the preprocessor are registered before the
// server is started; registrations made while it runs take effect on the next
// start.
//
// A Server can be started again after it has been stopped.
type Server struct {
	config  Config
	logger  zerolog.Logger
	metrics *Metrics

	mu           sync.Mutex
	providers    map[string]ContentProvider
	dispatcher   ContentProviderDispatcher
	preprocessor MessagePreprocessor
	listener     net.Listener
	pool         *workerPool
	conns        map[net.Conn]struct{}
	running      bool
	acceptDone   chan struct{}
	stopped      chan struct{}

	shutdown atomic.Bool
	connSeq  atomic.Uint64
}

// NewServer creates a server with the given configuration. The configuration
// is validated when the server starts.
func NewServer(config Config) *Server {
	return &Server{
		config:    config,
		logger:    config.Logger.With().Str("component", "server").Logger(),
		metrics:   NewMetrics(config.MetricsRegisterer),
		providers: map[string]ContentProvider{},
		conns:     map[net.Conn]struct{}{},
	}
}

// Config returns the server configuration.
func (s *Server) Config() Config { return s.config }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// AddContentProvider registers provider under id. The provider registered
// under WebSocketProviderID receives upgrade requests and must implement
// UpgradeProvider; it does not take part in content provider resolution.
func (s *Server) AddContentProvider(id string, provider ContentProvider) error {
	if provider == nil {
		return fmt.Errorf("%w: provider %q is nil", ErrInvalidConfig, id)
	}
	if id == WebSocketProviderID {
		if _, ok := provider.(UpgradeProvider); !ok {
			return fmt.Errorf("%w: %s", ErrNotUpgradeProvider, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providers[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	s.providers[id] = provider
	return nil
}

// SetContentProviderDispatcher sets the dispatcher used to choose between
// several content providers.
func (s *Server) SetContentProviderDispatcher(dispatcher ContentProviderDispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher = dispatcher
}

// SetMessagePreprocessor sets the preprocessor run before every dispatch.
// Without one, requests go straight to dispatch.
func (s *Server) SetMessagePreprocessor(preprocessor MessagePreprocessor) error {
	if preprocessor == nil {
		return ErrNilPreprocessor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preprocessor = preprocessor
	return nil
}

// Start opens the configured listening address and starts accepting
// connections in the background.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	listener, err := listen(s.config)
	if err != nil {
		return err
	}
	if err := s.start(listener); err != nil {
		_ = listener.Close()
		return err
	}
	return nil
}

// Serve accepts connections on listener and blocks until the server is
// stopped.
func (s *Server) Serve(listener net.Listener) error {
	if err := s.start(listener); err != nil {
		return err
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	<-stopped
	return nil
}

// ListenAndServe opens the configured address and serves until ctx is
// cancelled or the server is stopped.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	listener, err := listen(s.config)
	if err != nil {
		return err
	}
	if err := s.start(listener); err != nil {
		_ = listener.Close()
		return err
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return s.Stop()
		case <-stopped:
			return nil
		}
	})
	return g.Wait()
}

func (s *Server) start(listener net.Listener) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	enc, err := s.config.TextEncoding()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerRunning
	}

	processor := &messageProcessor{
		config:       s.config,
		encoding:     enc,
		logger:       s.logger,
		metrics:      s.metrics,
		providers:    map[string]ContentProvider{},
		dispatcher:   s.dispatcher,
		preprocessor: s.preprocessor,
	}
	for id, provider := range s.providers {
		if id == WebSocketProviderID {
			processor.upgrader = provider.(UpgradeProvider)
			continue
		}
		processor.providers[id] = provider
	}
	if len(processor.providers) > 1 && processor.dispatcher == nil {
		return ErrDispatcherRequired
	}

	s.pool = newWorkerPool(s.config.Workers, s.logger)
	s.pool.start()
	s.listener = listener
	s.running = true
	s.shutdown.Store(false)
	s.acceptDone = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.acceptLoop(listener, s.pool, processor, s.acceptDone)

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Int("workers", s.config.Workers).
		Int("providers", len(s.providers)).
		Msg("server started")

	return nil
}

// Stop closes the listener, stops the worker pool and closes every
// connection still being processed, then waits for the workers to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.shutdown.Store(true)
	listener, pool, acceptDone, stopped := s.listener, s.pool, s.acceptDone, s.stopped
	s.mu.Unlock()

	err := listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	<-acceptDone

	pool.stop()
	s.closeConnections()
	pool.wait()

	close(stopped)
	s.logger.Info().Msg("server stopped")

	return err
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the listening address, or nil if the server is not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(listener net.Listener, pool *workerPool, processor *messageProcessor, done chan struct{}) {
	defer close(done)

	for {
		c, err := listener.Accept()
		if err != nil {
			if !s.shutdown.Load() {
				s.logger.Debug().Err(err).Msg("accept loop ended")
			}
			return
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		s.metrics.ConnectionsAccepted.Inc()
		s.track(c)

		err = pool.submit(
			func() { s.serveConn(c, processor) },
			func() {
				s.untrack(c)
				_ = c.Close()
			},
		)
		if err != nil {
			s.untrack(c)
			_ = c.Close()
		}
	}
}

func (s *Server) serveConn(c net.Conn, processor *messageProcessor) {
	info := &ConnInfo{
		ID:         fmt.Sprintf("%s#%d", c.RemoteAddr(), s.connSeq.Add(1)),
		RemoteAddr: c.RemoteAddr().String(),
		Accepted:   time.Now(),
	}

	s.metrics.ConnectionsActive.Inc()
	defer func() {
		if v := recover(); v != nil {
			info.LastError = fmt.Sprint(v)
			s.logger.Error().Str("conn", info.ID).Interface("panic", v).Msg("connection processing panicked")
		}
		_ = closeConn(c)
		s.untrack(c)
		s.metrics.ConnectionsActive.Dec()

		event := s.logger.Debug().
			Str("conn", info.ID).
			Int("usage", info.Usage).
			Bool("upgraded", info.Upgraded).
			Dur("lifetime", time.Since(info.Accepted))
		if info.LastError != "" {
			event = event.Str("error", info.LastError)
		}
		event.Msg("connection closed")
	}()

	processor.handle(NewConn(c), info)
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) closeConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func listen(config Config) (net.Listener, error) {
	lc := listenConfig()
	return lc.Listen(context.Background(), "tcp", config.Address())
}

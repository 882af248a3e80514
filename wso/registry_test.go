package wso_test

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RobertWHurst/jamn"
	localconnection "github.com/RobertWHurst/jamn/local-connection"
	"github.com/RobertWHurst/jamn/wso"
	"github.com/rs/zerolog"
)

// MockWriter collects the frames written to a connection.
type MockWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *MockWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *MockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Messages decodes the text frames written so far.
func (w *MockWriter) Messages(t *testing.T) []string {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()

	r := bytes.NewReader(w.buf.Bytes())
	var messages []string
	for r.Len() > 0 {
		frame, err := wso.ReadFrame(r, 1<<20)
		if err != nil {
			t.Fatalf("invalid frame written: %v", err)
		}
		messages = append(messages, string(frame.Payload()))
	}
	return messages
}

type errorProcessor struct {
	closeConnection bool
	errs            []error
}

func (p *errorProcessor) OnMessage(connectionID string, message []byte) []byte {
	return append([]byte("echo: "), message...)
}

func (p *errorProcessor) OnError(connectionID string, message []byte, err error) ([]byte, bool) {
	p.errs = append(p.errs, err)
	return []byte("error: " + string(message)), p.closeConnection
}

var echo = wso.MessageProcessorFunc(func(connectionID string, message []byte) []byte {
	return message
})

func newRegistry(t *testing.T, path string, processor wso.MessageProcessor) (*wso.Registry, *MockWriter) {
	t.Helper()
	registry := wso.NewRegistry(zerolog.Nop())
	if processor != nil {
		if err := registry.AddMessageProcessor(path, processor); err != nil {
			t.Fatal(err)
		}
	}
	w := &MockWriter{}
	if err := registry.ConnectionEstablished("conn-1", wso.NewConnection("conn-1", path, "127.0.0.1:1", w)); err != nil {
		t.Fatal(err)
	}
	return registry, w
}

func TestRegistryProcessMessage(t *testing.T) {
	registry, w := newRegistry(t, "/ws", echo)

	if err := registry.ProcessMessageFor("conn-1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if messages := w.Messages(t); len(messages) != 1 || messages[0] != "hello" {
		t.Errorf("unexpected messages %q", messages)
	}
}

func TestRegistryEmptyReplyNotSent(t *testing.T) {
	registry, w := newRegistry(t, "/ws", wso.MessageProcessorFunc(func(string, []byte) []byte { return nil }))

	if err := registry.ProcessMessageFor("conn-1", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if messages := w.Messages(t); len(messages) != 0 {
		t.Errorf("expected nothing sent, got %q", messages)
	}
}

func TestRegistryProcessMessageErrors(t *testing.T) {
	registry, _ := newRegistry(t, "/ws", nil)

	if err := registry.ProcessMessageFor("conn-1", []byte("x")); !errors.Is(err, wso.ErrNoProcessor) {
		t.Errorf("expected ErrNoProcessor, got %v", err)
	}
	if err := registry.ProcessMessageFor("missing", []byte("x")); !errors.Is(err, wso.ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}

	_ = registry.AddMessageProcessor("/ws", wso.MessageProcessorFunc(func(string, []byte) []byte { panic("boom") }))
	err := registry.ProcessMessageFor("conn-1", []byte("x"))
	if jamn.KindOf(err) != jamn.KindProtocol {
		t.Errorf("expected a panicking processor to produce a protocol error, got %v", err)
	}
}

func TestRegistryDuplicates(t *testing.T) {
	registry, w := newRegistry(t, "/ws", echo)

	if err := registry.AddMessageProcessor("/ws", echo); !errors.Is(err, wso.ErrDuplicateProcessor) {
		t.Errorf("expected ErrDuplicateProcessor, got %v", err)
	}
	err := registry.ConnectionEstablished("conn-1", wso.NewConnection("conn-1", "/ws", "", w))
	if !errors.Is(err, wso.ErrDuplicateConnection) {
		t.Errorf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestRegistryProcessError(t *testing.T) {
	processor := &errorProcessor{}
	registry, w := newRegistry(t, "/ws", processor)

	if registry.ProcessErrorFor("conn-1", []byte("odd"), fmt.Errorf("%w: odd", jamn.ErrProtocol)) {
		t.Error("expected a recoverable error to keep the connection open")
	}
	if !registry.ProcessErrorFor("conn-1", nil, wso.ErrPayloadTooLarge) {
		t.Error("expected a fatal error to close the connection")
	}
	processor.closeConnection = true
	if !registry.ProcessErrorFor("conn-1", []byte("x"), jamn.ErrProtocol) {
		t.Error("expected the error handler to be able to close the connection")
	}
	if !registry.ProcessErrorFor("missing", nil, jamn.ErrProtocol) {
		t.Error("expected an unknown connection to be closed")
	}

	if len(processor.errs) != 3 {
		t.Errorf("expected 3 errors reported, got %d", len(processor.errs))
	}
	if messages := w.Messages(t); len(messages) != 3 || messages[0] != "error: odd" {
		t.Errorf("unexpected replies %q", messages)
	}
}

func TestRegistryProcessErrorWithoutHandler(t *testing.T) {
	registry, w := newRegistry(t, "/ws", echo)

	if registry.ProcessErrorFor("conn-1", nil, jamn.ErrProtocol) {
		t.Error("expected a recoverable error to keep the connection open")
	}
	if !registry.ProcessErrorFor("conn-1", nil, wso.ErrTruncatedFrame) {
		t.Error("expected a fatal error to close the connection")
	}
	if messages := w.Messages(t); len(messages) != 0 {
		t.Errorf("expected nothing sent, got %q", messages)
	}
}

func TestRegistryConnections(t *testing.T) {
	registry, w := newRegistry(t, "/ws", echo)
	_ = registry.ConnectionEstablished("conn-0", wso.NewConnection("conn-0", "/ws", "", &MockWriter{}))

	if ids := registry.ConnectionIDs(); len(ids) != 2 || ids[0] != "conn-0" || ids[1] != "conn-1" {
		t.Errorf("unexpected ids %v", ids)
	}
	if err := registry.SendMessageFor("conn-1", []byte("pushed")); err != nil {
		t.Fatal(err)
	}
	if messages := w.Messages(t); len(messages) != 1 || messages[0] != "pushed" {
		t.Errorf("unexpected messages %q", messages)
	}

	registry.ConnectionClosed("conn-1")
	if registry.IsConnectionAvailable("conn-1") {
		t.Error("expected conn-1 to be gone")
	}
	if err := registry.SendMessageFor("conn-1", []byte("x")); !errors.Is(err, wso.ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestConnectionClose(t *testing.T) {
	w := &MockWriter{}
	conn := wso.NewConnection("c", "/ws", "127.0.0.1:9", w)

	if err := conn.Close(); err != nil || !w.closed {
		t.Fatalf("expected the writer to be closed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("expected a second close to be a no-op, got %v", err)
	}
	if err := conn.Send([]byte("x")); !errors.Is(err, wso.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
	if conn.ID() != "c" || conn.Path() != "/ws" || conn.RemoteAddr() != "127.0.0.1:9" {
		t.Error("unexpected connection fields")
	}
}

func TestRegistryInterconnect(t *testing.T) {
	link := localconnection.New()

	first, w := newRegistry(t, "/ws", echo)
	second := wso.NewRegistry(zerolog.Nop())

	if err := first.SetInterconnect(link); err != nil {
		t.Fatal(err)
	}
	if err := second.SetInterconnect(link); err != nil {
		t.Fatal(err)
	}
	if first.ID() == second.ID() {
		t.Fatal("expected distinct instance ids")
	}

	// conn-1 was announced before second joined, so announce a new one
	_ = first.ConnectionEstablished("conn-2", wso.NewConnection("conn-2", "/ws", "", &MockWriter{}))
	if !second.IsConnectionAvailable("conn-2") {
		t.Fatal("expected conn-2 to be announced to the second registry")
	}
	if second.IsConnectionAvailable("conn-1") {
		t.Error("did not expect conn-1 to be known before it was announced")
	}

	if err := first.SetInterconnect(link); err != nil {
		t.Fatal(err)
	}
	if !second.IsConnectionAvailable("conn-1") {
		t.Fatal("expected conn-1 to be announced when the interconnect was set again")
	}
	if err := second.SendMessageFor("conn-1", []byte("from afar")); err != nil {
		t.Fatal(err)
	}
	if messages := w.Messages(t); len(messages) != 1 || messages[0] != "from afar" {
		t.Errorf("unexpected messages %q", messages)
	}

	first.ConnectionClosed("conn-1")
	if second.IsConnectionAvailable("conn-1") {
		t.Error("expected the close to be announced")
	}
	if err := second.SendMessageFor("conn-1", []byte("x")); !errors.Is(err, wso.ErrConnectionNotFound) {
		t.Errorf("expected ErrConnectionNotFound, got %v", err)
	}
}

func TestRegistryConcurrentSetInterconnect(t *testing.T) {
	link := localconnection.New()
	first, _ := newRegistry(t, "/ws", echo)
	second := wso.NewRegistry(zerolog.Nop())
	if err := second.ConnectionEstablished("conn-2", wso.NewConnection("conn-2", "/ws", "", &MockWriter{})); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 2)
	for i := 0; i < 50; i++ {
		go func() { done <- first.SetInterconnect(link) }()
		go func() { done <- second.SetInterconnect(link) }()
		for j := 0; j < 2; j++ {
			select {
			case err := <-done:
				if err != nil {
					t.Fatal(err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("SetInterconnect did not return on round %d", i)
			}
		}
	}

	_ = first.ConnectionEstablished("conn-3", wso.NewConnection("conn-3", "/ws", "", &MockWriter{}))
	_ = second.ConnectionEstablished("conn-4", wso.NewConnection("conn-4", "/ws", "", &MockWriter{}))
	if !second.IsConnectionAvailable("conn-3") || !first.IsConnectionAvailable("conn-4") {
		t.Error("expected both registries to stay linked")
	}
}

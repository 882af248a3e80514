package wso_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RobertWHurst/jamn"
	"github.com/RobertWHurst/jamn/wso"
	"github.com/coder/websocket"
	gorilla "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const clientKey = "dGhlIHNhbXBsZSBub25jZQ=="

func testConfig() jamn.Config {
	config := jamn.DefaultConfig()
	config.Host = "127.0.0.1"
	config.Port = 0
	config.Logger = zerolog.Nop()
	return config
}

func startServer(t *testing.T, setup func(p *wso.Provider)) (*wso.Provider, string) {
	t.Helper()
	return startServerWith(t, testConfig(), setup)
}

func startServerWith(t *testing.T, config jamn.Config, setup func(p *wso.Provider)) (*wso.Provider, string) {
	t.Helper()
	provider := wso.NewProvider(config)
	if setup != nil {
		setup(provider)
	}

	server := jamn.NewServer(config)
	if err := server.AddContentProvider(jamn.WebSocketProviderID, provider); err != nil {
		t.Fatal(err)
	}
	if err := server.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return provider, server.Addr().String()
}

func addProcessor(t *testing.T, p *wso.Provider, processor wso.MessageProcessor, paths ...string) {
	t.Helper()
	if err := p.AddMessageProcessor(processor, paths...); err != nil {
		t.Fatal(err)
	}
}

// upgrade performs the opening handshake on a raw connection.
func upgrade(t *testing.T, addr, path string) (net.Conn, *bufio.Reader, *http.Response) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	request := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + addr + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + clientKey + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatal(err)
	}
	r := bufio.NewReader(conn)
	res, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatal(err)
	}
	return conn, r, res
}

func mustUpgrade(t *testing.T, addr, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, r, res := upgrade(t, addr, path)
	if res.StatusCode != 101 {
		t.Fatalf("expected 101, got %d", res.StatusCode)
	}
	return conn, r
}

func sendFrame(t *testing.T, conn net.Conn, fin bool, opcode wso.Opcode, payload string) {
	t.Helper()
	if _, err := conn.Write(wso.EncodeFrame(fin, opcode, []byte(payload), &testKey)); err != nil {
		t.Fatal(err)
	}
}

func readMessage(t *testing.T, r io.Reader) string {
	t.Helper()
	frame, err := wso.ReadFrame(r, 1<<20)
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	if frame.Masked() {
		t.Error("expected server frames to be unmasked")
	}
	return string(frame.Payload())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandshakeResponse(t *testing.T) {
	_, addr := startServer(t, func(p *wso.Provider) { addProcessor(t, p, echo) })

	_, _, res := upgrade(t, addr, "/wsoapi")
	if res.StatusCode != 101 {
		t.Fatalf("expected 101, got %d", res.StatusCode)
	}
	if res.Header.Get("Sec-WebSocket-Accept") != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("unexpected accept key %q", res.Header.Get("Sec-WebSocket-Accept"))
	}
	if !strings.EqualFold(res.Header.Get("Upgrade"), "websocket") || !strings.EqualFold(res.Header.Get("Connection"), "upgrade") {
		t.Errorf("unexpected upgrade fields %v", res.Header)
	}
}

func TestHandshakeRejections(t *testing.T) {
	_, addr := startServer(t, func(p *wso.Provider) {
		p.AddConnectionPath("/private")
		addProcessor(t, p, echo, wso.DefaultPath, "/private")
		p.SetAccessController(wso.AccessControllerFunc(func(header *jamn.Header) error {
			if strings.HasPrefix(header.Path(), "/private") {
				return errors.New("not allowed")
			}
			return nil
		}))
	})

	for _, path := range []string{"/unknown", "/private"} {
		conn, r, res := upgrade(t, addr, path)
		if res.StatusCode != 403 {
			t.Errorf("%s: expected 403, got %d", path, res.StatusCode)
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := r.ReadByte(); err == nil {
			t.Errorf("%s: expected the connection to be closed", path)
		}
	}
}

func TestEchoOverRawConnection(t *testing.T) {
	_, addr := startServer(t, func(p *wso.Provider) { addProcessor(t, p, echo) })
	conn, r := mustUpgrade(t, addr, "/wsoapi")

	sendFrame(t, conn, true, wso.OpText, "hello")
	if got := readMessage(t, r); got != "hello" {
		t.Errorf("unexpected reply %q", got)
	}

	sendFrame(t, conn, true, wso.OpText, strings.Repeat("y", 300))
	if got := readMessage(t, r); got != strings.Repeat("y", 300) {
		t.Errorf("unexpected reply length %d", len(got))
	}
}

func TestUpgradedConnectionOutlivesSocketTimeout(t *testing.T) {
	config := testConfig()
	config.SocketTimeout = 200 * time.Millisecond
	_, addr := startServerWith(t, config, func(p *wso.Provider) { addProcessor(t, p, echo) })
	conn, r := mustUpgrade(t, addr, "/wsoapi")

	time.Sleep(3 * config.SocketTimeout)

	sendFrame(t, conn, true, wso.OpText, "late")
	if got := readMessage(t, r); got != "late" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestFragmentedMessage(t *testing.T) {
	var mu sync.Mutex
	var received []string
	_, addr := startServer(t, func(p *wso.Provider) {
		addProcessor(t, p, wso.MessageProcessorFunc(func(id string, message []byte) []byte {
			mu.Lock()
			received = append(received, string(message))
			mu.Unlock()
			return message
		}))
	})
	conn, r := mustUpgrade(t, addr, "/wsoapi")

	sendFrame(t, conn, false, wso.OpText, "Hel")
	sendFrame(t, conn, false, wso.OpContinuation, "lo ")
	sendFrame(t, conn, true, wso.OpContinuation, "World")

	if got := readMessage(t, r); got != "Hello World" {
		t.Errorf("unexpected reply %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Errorf("expected one delivered message, got %q", received)
	}
}

func TestOversizeFrameClosesConnection(t *testing.T) {
	var calls atomic.Int32
	provider, addr := startServer(t, func(p *wso.Provider) {
		p.SetMaxPayload(10)
		addProcessor(t, p, wso.MessageProcessorFunc(func(id string, message []byte) []byte {
			calls.Add(1)
			return message
		}))
	})
	conn, r := mustUpgrade(t, addr, "/wsoapi")
	waitFor(t, "the connection to register", func() bool { return len(provider.Registry().ConnectionIDs()) == 1 })

	sendFrame(t, conn, true, wso.OpText, strings.Repeat("x", 20))

	if _, err := r.ReadByte(); err == nil {
		t.Error("expected the connection to be closed")
	}
	if calls.Load() != 0 {
		t.Error("did not expect the oversize message to be delivered")
	}
	waitFor(t, "the connection to be removed", func() bool { return len(provider.Registry().ConnectionIDs()) == 0 })
}

func TestUnknownOpcodeIsRecoverable(t *testing.T) {
	processor := &errorProcessor{}
	_, addr := startServer(t, func(p *wso.Provider) { addProcessor(t, p, processor) })
	conn, r := mustUpgrade(t, addr, "/wsoapi")

	sendFrame(t, conn, true, wso.Opcode(0x3), "odd")
	if got := readMessage(t, r); got != "error: odd" {
		t.Errorf("unexpected error reply %q", got)
	}

	sendFrame(t, conn, true, wso.OpText, "still here")
	if got := readMessage(t, r); got != "echo: still here" {
		t.Errorf("unexpected reply %q", got)
	}
}

func TestCloseFrameIsEchoed(t *testing.T) {
	var calls atomic.Int32
	provider, addr := startServer(t, func(p *wso.Provider) {
		addProcessor(t, p, wso.MessageProcessorFunc(func(id string, message []byte) []byte {
			calls.Add(1)
			return nil
		}))
	})
	conn, r := mustUpgrade(t, addr, "/wsoapi")

	closeFrame := wso.EncodeFrame(true, wso.OpClose, []byte{0x03, 0xE8}, &testKey)
	if _, err := conn.Write(closeFrame); err != nil {
		t.Fatal(err)
	}

	echoed := make([]byte, len(closeFrame))
	if _, err := io.ReadFull(r, echoed); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(echoed, closeFrame) {
		t.Errorf("expected the close frame to be echoed verbatim, got %x", echoed)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Error("expected the connection to be closed")
	}
	if calls.Load() != 0 {
		t.Error("did not expect the close frame to be delivered")
	}
	waitFor(t, "the connection to be removed", func() bool { return len(provider.Registry().ConnectionIDs()) == 0 })
}

func TestCoderClient(t *testing.T) {
	provider, addr := startServer(t, func(p *wso.Provider) { addProcessor(t, p, echo) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/wsoapi", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	for _, message := range []string{"first", strings.Repeat("z", 1000), "third"} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(message)); err != nil {
			t.Fatal(err)
		}
		kind, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if kind != websocket.MessageText || string(data) != message {
			t.Errorf("unexpected reply %v %q", kind, data)
		}
	}

	ids := provider.Registry().ConnectionIDs()
	if len(ids) != 1 || !strings.HasPrefix(ids[0], "/wsoapi - ") {
		t.Errorf("unexpected connection ids %v", ids)
	}
}

func TestGorillaClientServerPush(t *testing.T) {
	provider, addr := startServer(t, func(p *wso.Provider) {
		p.AddConnectionPath("/events")
		addProcessor(t, p, echo, "/events")
	})

	conn, _, err := gorilla.DefaultDialer.Dial("ws://"+addr+"/events?client=1", nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	waitFor(t, "the connection to register", func() bool { return len(provider.Registry().ConnectionIDs()) == 1 })
	id := provider.Registry().ConnectionIDs()[0]
	if !strings.HasPrefix(id, "/events - ") {
		t.Errorf("expected the query to be dropped from the id, got %q", id)
	}
	if !provider.IsConnectionAvailable(id) {
		t.Fatal("expected the connection to be available")
	}

	if err := provider.SendMessageTo(id, []byte("pushed")); err != nil {
		t.Fatal(err)
	}
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != gorilla.TextMessage || string(data) != "pushed" {
		t.Errorf("unexpected message %v %q", kind, data)
	}

	if err := conn.WriteMessage(gorilla.TextMessage, []byte("ping me")); err != nil {
		t.Fatal(err)
	}
	if _, data, err = conn.ReadMessage(); err != nil || string(data) != "ping me" {
		t.Errorf("unexpected echo %q %v", data, err)
	}

	_ = conn.Close()
	waitFor(t, "the connection to be removed", func() bool { return !provider.IsConnectionAvailable(id) })
}

func TestProviderConfiguration(t *testing.T) {
	provider := wso.NewProvider(testConfig())

	if err := provider.AddMessageProcessor(echo, "/nope"); !errors.Is(err, wso.ErrUnknownPath) {
		t.Errorf("expected ErrUnknownPath, got %v", err)
	}

	provider.SetConnectionPaths("/a", "/b")
	if paths := provider.ConnectionPaths(); strings.Join(paths, ",") != "/a,/b" {
		t.Errorf("unexpected paths %v", paths)
	}
	if provider.IsConnectionPath(wso.DefaultPath) || !provider.IsConnectionPath("/a?x=1") {
		t.Error("unexpected connection path check")
	}

	req := jamn.NewRequest(jamn.ParseHeader("GET /a HTTP/1.1\r\n"), nil)
	if err := provider.HandleContent(req, jamn.NewResponse(io.Discard)); !errors.Is(err, wso.ErrUpgradeRequired) {
		t.Errorf("expected ErrUpgradeRequired, got %v", err)
	}
}

// Package jamn provides a small embeddable HTTP/1.1 and WebSocket server.
//
// The server accepts TCP connections and serves each one on a bounded pool of
// worker goroutines. Every request on a connection is read, passed through an
// optional message preprocessor and handed to a content provider, which fills
// in the response. Connections stay open for further requests when keep-alive
// is enabled. Upgrade requests are handed to the WebSocket provider, which
// takes over the connection for as long as it stays open.
//
// # Key Features
//
//   - Bounded worker pool with keep-alive request loops
//   - Pluggable content providers selected by a dispatcher
//   - Message preprocessors for CORS, sessions and bearer tokens
//   - WebSocket upgrade with frame reassembly and a connection registry
//   - Structured logging with zerolog and Prometheus metrics
//
// # Quick Start
//
// Create a server, register providers and start it:
//
//	config := jamn.DefaultConfig()
//	server := jamn.NewServer(config)
//
//	server.AddContentProvider("hello", jamn.ContentProviderFunc(func(req *jamn.Request, res *jamn.Response) error {
//	    res.SetContentType(jamn.ContentTypeTextPlain)
//	    _, err := res.WriteString("hello")
//	    return err
//	}))
//
//	server.ListenAndServe(ctx)
//
// # Providers
//
// With a single provider registered, every request goes to it. With several,
// a ContentProviderDispatcher picks one by id. PatternDispatcher routes by
// path pattern:
//
//	dispatcher := jamn.NewPatternDispatcher("site")
//	dispatcher.Route("/api/**", "services")         // Any depth
//	dispatcher.Route("/users/:id", "users")         // Named segment
//	server.SetContentProviderDispatcher(dispatcher)
//
// # WebSockets
//
// Register a wso.Provider under WebSocketProviderID and add a message
// processor for its connection path:
//
//	provider := wso.NewProvider(config)
//	provider.AddMessageProcessor(wso.MessageProcessorFunc(func(id string, msg []byte) []byte {
//	    return msg
//	}))
//	server.AddContentProvider(jamn.WebSocketProviderID, provider)
//
// # Errors
//
// Errors returned by preprocessors and providers are classified with KindOf.
// Security errors answer 403, protocol errors 400, timeouts 408 and anything
// else 500. Panics are recovered and answer 500.
package jamn

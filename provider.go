package jamn

import _ "embed"

// WebSocketProviderID is the id a provider must be registered under to
// receive WebSocket upgrade requests. The provider must implement
// UpgradeProvider.
const WebSocketProviderID = "WebSocketProvider"

//go:embed blank-server.html
var blankServerPage []byte

// ContentProvider produces the response for an ordinary request. A provider
// that fully sends the response itself, for example with SendStatus, leaves
// the server nothing to do; otherwise the server sends the response after the
// provider returns.
//
// Returning an error wrapping ErrSecurity produces a 403 response, any other
// error a 500 response.
type ContentProvider interface {
	HandleContent(req *Request, res *Response) error
}

// ContentProviderFunc adapts a function to the ContentProvider interface.
type ContentProviderFunc func(req *Request, res *Response) error

func (f ContentProviderFunc) HandleContent(req *Request, res *Response) error {
	return f(req, res)
}

// UpgradeProvider is a content provider that can take over a connection's raw
// byte stream. Once HandleUpgrade is called the server performs no further
// HTTP processing on the connection and closes it when HandleUpgrade returns.
type UpgradeProvider interface {
	ContentProvider
	HandleUpgrade(req *Request, conn *Conn, info *ConnInfo) error
}

// ContentProviderDispatcher picks the provider for a request when more than
// one provider is registered. It returns the provider's id; an unknown id
// selects the built-in default provider.
type ContentProviderDispatcher interface {
	ProviderID(req *Request) string
}

// DispatcherFunc adapts a function to the ContentProviderDispatcher
// interface.
type DispatcherFunc func(req *Request) string

func (f DispatcherFunc) ProviderID(req *Request) string {
	return f(req)
}

// MessagePreprocessor runs before a request is dispatched. It may send the
// response itself, or mark it processed, in which case no provider is
// called. An error wrapping ErrSecurity rejects the request with 403.
type MessagePreprocessor interface {
	Preprocess(req *Request, res *Response) error
}

// PreprocessorFunc adapts a function to the MessagePreprocessor interface.
type PreprocessorFunc func(req *Request, res *Response) error

func (f PreprocessorFunc) Preprocess(req *Request, res *Response) error {
	return f(req, res)
}

// DefaultContentProvider is used when no provider is registered, or when the
// dispatcher names an unknown provider. It serves a placeholder page at "/"
// and 204 No Content everywhere else.
var DefaultContentProvider ContentProvider = ContentProviderFunc(func(req *Request, res *Response) error {
	res.SetStatus(StatusNoContent)
	if req.Path() == "/" {
		res.SetContentType(ContentTypeTextHTML)
		if _, err := res.Write(blankServerPage); err != nil {
			return err
		}
		res.SetStatus(StatusOK)
	}
	return nil
})

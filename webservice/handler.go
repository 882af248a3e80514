package webservice

import (
	"bytes"
	"context"

	"github.com/RobertWHurst/jamn"
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler is one callable web service. Call receives the raw request body
// and returns the raw response body; an empty response body answers 204.
type Handler interface {
	ContentType() string
	Call(ctx context.Context, body []byte) ([]byte, error)
}

type handler struct {
	contentType string
	call        func(ctx context.Context, body []byte) ([]byte, error)
}

func (h *handler) ContentType() string { return h.contentType }

func (h *handler) Call(ctx context.Context, body []byte) ([]byte, error) {
	return h.call(ctx, body)
}

// Raw creates a handler for the given content type that works on the body
// bytes directly.
func Raw(contentType string, fn func(ctx context.Context, body []byte) ([]byte, error)) Handler {
	return &handler{contentType: contentType, call: fn}
}

// JSON creates a handler decoding the request body into In and encoding the
// returned Out. An empty request body leaves In at its zero value.
func JSON[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return &handler{
		contentType: jamn.ContentTypeJSON,
		call: func(ctx context.Context, body []byte) ([]byte, error) {
			var in In
			if len(bytes.TrimSpace(body)) > 0 {
				if err := json.Unmarshal(body, &in); err != nil {
					return nil, Errorf(jamn.StatusBadRequest, "invalid JSON request body: %v", err)
				}
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	}
}

// MsgPack creates a handler exchanging MessagePack encoded values.
func MsgPack[In, Out any](fn func(ctx context.Context, in In) (Out, error)) Handler {
	return &handler{
		contentType: jamn.ContentTypeMsgPack,
		call: func(ctx context.Context, body []byte) ([]byte, error) {
			var in In
			if len(body) > 0 {
				if err := msgpack.Unmarshal(body, &in); err != nil {
					return nil, Errorf(jamn.StatusBadRequest, "invalid MessagePack request body: %v", err)
				}
			}
			out, err := fn(ctx, in)
			if err != nil {
				return nil, err
			}
			return msgpack.Marshal(out)
		},
	}
}

// Text creates a plain text handler.
func Text(fn func(ctx context.Context, in string) (string, error)) Handler {
	return &handler{
		contentType: jamn.ContentTypeTextPlain,
		call: func(ctx context.Context, body []byte) ([]byte, error) {
			out, err := fn(ctx, string(body))
			if err != nil {
				return nil, err
			}
			return []byte(out), nil
		},
	}
}

// Route binds a handler to a path and its allowed methods.
type Route struct {
	Path    string
	Methods []string
	Handler Handler
}

// Service groups routes registered together.
type Service interface {
	Routes() []Route
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func() []Route

func (f ServiceFunc) Routes() []Route {
	return f()
}

type requestKey struct{}

// RequestFrom returns the request a handler is serving. Direct calls carry
// no request.
func RequestFrom(ctx context.Context) (*jamn.Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*jamn.Request)
	return req, ok
}

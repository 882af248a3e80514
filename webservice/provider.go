// Package webservice is a content provider that maps request paths to
// service functions. Requests are decoded according to the service's content
// type, the function's result is encoded back, and its errors are mapped to
// response statuses.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RobertWHurst/jamn"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultMethods are allowed on routes registered without methods.
var DefaultMethods = []string{"GET", "POST"}

type route struct {
	methods []string
	handler Handler
}

func (r *route) allows(method string) bool {
	for _, m := range r.methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Provider serves registered web services.
type Provider struct {
	mu     sync.RWMutex
	routes map[string]*route
	logger zerolog.Logger
}

var _ jamn.ContentProvider = &Provider{}

func New(logger zerolog.Logger) *Provider {
	return &Provider{
		routes: map[string]*route{},
		logger: logger.With().Str("component", "webservice").Logger(),
	}
}

// Register adds every route of service.
func (p *Provider) Register(service Service) error {
	for _, r := range service.Routes() {
		if err := p.Handle(r.Path, r.Handler, r.Methods...); err != nil {
			return err
		}
	}
	return nil
}

// Handle binds handler to path. Without methods, DefaultMethods apply.
func (p *Provider) Handle(path string, handler Handler, methods ...string) error {
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, path)
	}
	if len(methods) == 0 {
		methods = DefaultMethods
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.routes[path]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, path)
	}
	p.routes[path] = &route{methods: methods, handler: handler}
	return nil
}

// ServicePaths returns the registered paths, sorted.
func (p *Provider) ServicePaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, 0, len(p.routes))
	for path := range p.routes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// IsServicePath reports whether a service is registered for path. A query
// string on path is ignored.
func (p *Provider) IsServicePath(path string) bool {
	_, ok := p.lookup(path)
	return ok
}

// DirectCall calls the service at path without going through HTTP.
func (p *Provider) DirectCall(ctx context.Context, path string, body []byte) ([]byte, error) {
	r, ok := p.lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	var out []byte
	err := jamn.Recover(func() error {
		var err error
		out, err = r.handler.Call(ctx, body)
		return err
	})
	return out, err
}

func (p *Provider) HandleContent(req *jamn.Request, res *jamn.Response) error {
	r, ok := p.lookup(req.Path())
	switch {
	case !ok:
		return p.fail(res, "", Errorf(jamn.StatusNotFound, "unsupported web service path [%s]", req.Path()))
	case req.IsMethod("OPTIONS"):
		res.SetStatus(jamn.StatusNoContent)
		return nil
	case !r.allows(req.Method()):
		return p.fail(res, "", Errorf(jamn.StatusMethodNotAllowed, "unsupported method [%s] for [%s]", req.Method(), req.Path()))
	}

	contentType := r.handler.ContentType()
	if req.ContentType() != "" && !req.HasContentType(contentType) {
		return p.fail(res, contentType, Errorf(jamn.StatusBadRequest, "unsupported content type [%s] for [%s]", req.ContentType(), req.Path()))
	}

	ctx := context.WithValue(context.Background(), requestKey{}, req)
	var out []byte
	err := jamn.Recover(func() error {
		var err error
		out, err = r.handler.Call(ctx, req.BodyBytes())
		return err
	})
	if err != nil {
		return p.fail(res, contentType, err)
	}

	if len(out) == 0 {
		res.SetStatus(jamn.StatusNoContent)
		return nil
	}
	res.SetContentType(contentType)
	res.SetStatus(jamn.StatusOK)
	_, err = res.Write(out)
	return err
}

// fail writes the error response for err. Errors that are not a StatusError
// answer 500 and are logged.
func (p *Provider) fail(res *jamn.Response, contentType string, err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		p.logger.Error().Err(err).Msg("web service failed")
		statusErr = &StatusError{Status: jamn.StatusInternalServerError, Message: "internal web service error"}
	} else {
		p.logger.Debug().Err(err).Msg("web service request rejected")
	}

	res.ResetContent()
	res.SetStatus(statusErr.Status)
	if contentType == jamn.ContentTypeJSON {
		body, marshalErr := json.Marshal(statusErr.body())
		if marshalErr != nil {
			return marshalErr
		}
		res.SetContentType(jamn.ContentTypeJSON)
		_, werr := res.Write(body)
		return werr
	}
	res.SetContentType(jamn.ContentTypeTextPlain)
	_, werr := res.WriteString(statusErr.Message)
	return werr
}

func (p *Provider) lookup(path string) (*route, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.routes[path]
	return r, ok
}

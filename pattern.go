package jamn

import (
	"errors"
	"strings"
	"sync"

	"github.com/grafana/regexp"
)

var identifierRegExp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Pattern is a compiled request path pattern. Segments are matched as
// follows:
//   - "users" matches the segment literally
//   - ":id" matches any single segment and captures it as "id"
//   - "*" matches any single segment
//   - "**" matches the rest of the path, and may only be the last segment
//
// A trailing slash on the request path is ignored, as is any query string.
type Pattern struct {
	str    string
	regExp *regexp.Regexp
}

// NewPattern compiles a pattern string such as "/api/:version/**".
func NewPattern(patternStr string) (*Pattern, error) {
	if !strings.HasPrefix(patternStr, "/") {
		return nil, errors.New("pattern must start with '/': " + patternStr)
	}

	segments := strings.Split(strings.Trim(patternStr, "/"), "/")
	var expr strings.Builder
	expr.WriteString("^")

	for i, segment := range segments {
		switch {
		case segment == "" && len(segments) == 1:
			// root pattern
		case segment == "":
			return nil, errors.New("pattern contains an empty segment: " + patternStr)
		case segment == "**":
			if i != len(segments)-1 {
				return nil, errors.New("'**' must be the last segment: " + patternStr)
			}
			expr.WriteString("(?:/.*)?")
		case segment == "*":
			expr.WriteString("/[^/]+")
		case strings.HasPrefix(segment, ":"):
			name := segment[1:]
			if !identifierRegExp.MatchString(name) {
				return nil, errors.New("invalid parameter name '" + name + "' in pattern: " + patternStr)
			}
			expr.WriteString("/(?P<" + name + ">[^/]+)")
		default:
			expr.WriteString("/" + regexp.QuoteMeta(segment))
		}
	}
	expr.WriteString("/?$")

	compiled, err := regexp.Compile(expr.String())
	if err != nil {
		return nil, err
	}
	return &Pattern{str: patternStr, regExp: compiled}, nil
}

// MustPattern is like NewPattern but panics on an invalid pattern.
func MustPattern(patternStr string) *Pattern {
	p, err := NewPattern(patternStr)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether path matches the pattern and returns the captured
// parameters.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	matches := p.regExp.FindStringSubmatch(path)
	if matches == nil {
		return nil, false
	}
	params := map[string]string{}
	for i, name := range p.regExp.SubexpNames() {
		if i > 0 && name != "" {
			params[name] = matches[i]
		}
	}
	return params, true
}

func (p *Pattern) String() string {
	return p.str
}

// PatternDispatcher is a ContentProviderDispatcher choosing the provider by
// request path. Routes are tried in the order they were added; the first
// match wins. Requests matching no route go to the fallback provider id.
type PatternDispatcher struct {
	mu       sync.RWMutex
	routes   []patternRoute
	fallback string
}

type patternRoute struct {
	pattern    *Pattern
	providerID string
}

var _ ContentProviderDispatcher = &PatternDispatcher{}

// NewPatternDispatcher creates a dispatcher sending unmatched requests to
// the provider registered under fallback.
func NewPatternDispatcher(fallback string) *PatternDispatcher {
	return &PatternDispatcher{fallback: fallback}
}

// Route sends requests whose path matches pattern to the provider registered
// under providerID.
func (d *PatternDispatcher) Route(pattern string, providerID string) error {
	compiled, err := NewPattern(pattern)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.routes = append(d.routes, patternRoute{pattern: compiled, providerID: providerID})
	d.mu.Unlock()
	return nil
}

// ProviderID returns the provider id for the request.
func (d *PatternDispatcher) ProviderID(req *Request) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, route := range d.routes {
		if _, ok := route.pattern.Match(req.Path()); ok {
			return route.providerID
		}
	}
	return d.fallback
}

package preprocess

import (
	"strings"

	"github.com/RobertWHurst/jamn"
	"github.com/google/uuid"
)

// SessionCookie gives every client without the named cookie a new random
// session id.
func SessionCookie(name string) jamn.MessagePreprocessor {
	return jamn.PreprocessorFunc(func(req *jamn.Request, res *jamn.Response) error {
		if _, ok := CookieValue(req.Header(), name); ok {
			return nil
		}
		res.Header().AddSetCookie(name + "=" + uuid.NewString() + "; Secure; HttpOnly")
		return nil
	})
}

// CookieValue returns the value of the named cookie sent with a request.
func CookieValue(header *jamn.Header, name string) (string, bool) {
	for _, pair := range strings.Split(header.Cookie(), ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && key == name {
			return value, true
		}
	}
	return "", false
}

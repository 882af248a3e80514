package preprocess

import (
	"strings"

	"github.com/RobertWHurst/jamn"
	"github.com/golang-jwt/jwt/v5"
)

// BearerAuth requires requests to carry a bearer token signed with key using
// HS256. Without prefixes every request is checked; otherwise only requests
// whose path starts with one of them. A missing or invalid token rejects the
// request with 403.
func BearerAuth(key []byte, prefixes ...string) jamn.MessagePreprocessor {
	return jamn.PreprocessorFunc(func(req *jamn.Request, res *jamn.Response) error {
		if !guarded(req.Path(), prefixes) {
			return nil
		}

		tokenString := req.Header().BearerToken()
		if tokenString == "" {
			return jamn.SecurityError("missing bearer token for [%s]", req.Path())
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return jamn.SecurityError("invalid bearer token for [%s]: %v", req.Path(), err)
		}

		if subject, err := token.Claims.GetSubject(); err == nil && subject != "" {
			res.AddContext("subject=" + subject)
		}
		return nil
	})
}

func guarded(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

package preprocess

import (
	"slices"

	"github.com/RobertWHurst/jamn"
)

// CORS answers cross origin requests from the allowed origins. "*" allows
// any origin. Preflight OPTIONS requests from an allowed origin are answered
// with 204 directly.
func CORS(allowedOrigins ...string) jamn.MessagePreprocessor {
	allowAll := slices.Contains(allowedOrigins, "*")

	return jamn.PreprocessorFunc(func(req *jamn.Request, res *jamn.Response) error {
		origin := req.Header().Origin()
		if origin == "" || (!allowAll && !slices.Contains(allowedOrigins, origin)) {
			return nil
		}

		header := res.Header()
		header.Set(jamn.FieldAccessControlAllowOrigin, origin)
		header.Set(jamn.FieldAccessControlAllowMethods, "GET, POST, PUT, DELETE, OPTIONS")
		header.Set(jamn.FieldAccessControlAllowHeaders, "Content-Type, Authorization")
		header.Set(jamn.FieldAccessControlAllowCredentials, "true")

		if req.IsMethod("OPTIONS") {
			return res.SendStatus(jamn.StatusNoContent)
		}
		return nil
	})
}

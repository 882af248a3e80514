// Package preprocess provides message preprocessors for the server: CORS
// handling, session cookies and bearer token checks, plus Chain to combine
// them.
package preprocess

import "github.com/RobertWHurst/jamn"

// Chain runs preprocessors in order. It stops at the first error, or as soon
// as one of them has sent the response.
func Chain(preprocessors ...jamn.MessagePreprocessor) jamn.MessagePreprocessor {
	return jamn.PreprocessorFunc(func(req *jamn.Request, res *jamn.Response) error {
		for _, preprocessor := range preprocessors {
			if err := preprocessor.Preprocess(req, res); err != nil {
				return err
			}
			if res.IsProcessed() {
				return nil
			}
		}
		return nil
	})
}

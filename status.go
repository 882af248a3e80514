package jamn

import "strconv"

// Status represents an HTTP response status code. Only the codes the server
// itself produces or that providers commonly need are given constants, but any
// integer code may be used.
type Status int

// HTTP status codes
const (
	StatusSwitchingProtocols  Status = 101
	StatusOK                  Status = 200
	StatusCreated             Status = 201
	StatusNoContent           Status = 204
	StatusBadRequest          Status = 400
	StatusForbidden           Status = 403
	StatusNotFound            Status = 404
	StatusMethodNotAllowed    Status = 405
	StatusNotAcceptable       Status = 406
	StatusRequestTimeout      Status = 408
	StatusLengthRequired      Status = 411
	StatusInternalServerError Status = 500
	StatusServiceUnavailable  Status = 503
)

var statusText = map[Status]string{
	StatusSwitchingProtocols:  "Switching Protocols",
	StatusOK:                  "OK",
	StatusCreated:             "Created",
	StatusNoContent:           "No Content",
	StatusBadRequest:          "Bad Request",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusNotAcceptable:       "Not Acceptable",
	StatusRequestTimeout:      "Request Timeout",
	StatusLengthRequired:      "Length Required",
	StatusInternalServerError: "Internal Server Error",
	StatusServiceUnavailable:  "Service Unavailable",
}

// Text returns the canonical reason phrase for the status. Unknown codes
// return an empty string.
func (s Status) Text() string {
	return statusText[s]
}

// String returns the status as it appears in a status line, for example
// "200 OK".
func (s Status) String() string {
	text := s.Text()
	if text == "" {
		return strconv.Itoa(int(s))
	}
	return strconv.Itoa(int(s)) + " " + text
}

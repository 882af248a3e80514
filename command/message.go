package command

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Reply statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusBusy    = "busy"
)

// GlobalRef is the reference used for replies to messages that carried none.
const GlobalRef = "server.global"

// MaxHeadLen is the longest head, delimiters included, that is recognised at
// the start of a message.
const MaxHeadLen = 100

// Message is the JSON body of requests and replies. Requests fill Cmd and
// Args, replies fill Status, Output and Error. Ref is taken from the message
// head and echoed in every reply.
type Message struct {
	Ref    string   `json:"ref"`
	Cmd    string   `json:"cmd,omitempty"`
	Args   []string `json:"args,omitempty"`
	Status string   `json:"status,omitempty"`
	Output string   `json:"output,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// SplitMessage separates the optional "<ref>" head from the body of a
// message. A head is only recognised when its closing delimiter lies within
// the first MaxHeadLen bytes.
func SplitMessage(message []byte) (ref string, body []byte) {
	if len(message) == 0 || message[0] != '<' {
		return "", message
	}
	area := message
	if len(area) > MaxHeadLen {
		area = area[:MaxHeadLen]
	}
	end := bytes.IndexByte(area, '>')
	if end < 0 {
		return "", message
	}
	return string(message[1:end]), message[end+1:]
}

func encode(msg *Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return []byte(`{"ref":"` + GlobalRef + `","status":"error","error":"reply encoding failed"}`)
	}
	return data
}

// Package command is a WebSocket message processor that runs named commands.
// A message is an optional "<ref>" head followed by a JSON body such as
// {"cmd": "echo", "args": ["hello"]}. One command runs at a time per
// processor; messages arriving while one runs get a "busy" reply.
package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RobertWHurst/jamn"
	"github.com/RobertWHurst/jamn/wso"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrNilCommand       = errors.New("command is nil")
	ErrUnknownCommand   = errors.New("unsupported command")
	ErrNoSender         = errors.New("command output has no sender")
)

// Sender delivers messages to connections. The wso provider is a Sender.
type Sender interface {
	SendMessageTo(connectionID string, message []byte) error
}

// Command runs one command. The returned text is the reply's output.
type Command func(call *Call) (string, error)

// Call is a single command invocation.
type Call struct {
	ConnectionID string
	Ref          string
	Args         []string

	sender Sender
}

// Print sends text to the caller right away, ahead of the final reply.
func (c *Call) Print(text string) error {
	if c.sender == nil {
		return ErrNoSender
	}
	return c.sender.SendMessageTo(c.ConnectionID, encode(&Message{Ref: c.Ref, Output: text}))
}

type Processor struct {
	mu       sync.RWMutex
	commands map[string]Command
	busy     atomic.Bool
	sender   Sender
	logger   zerolog.Logger
}

var (
	_ wso.MessageProcessor = &Processor{}
	_ wso.ErrorHandler     = &Processor{}
)

// New creates a processor. sender is used by Call.Print and may be nil when
// commands never stream output.
func New(sender Sender, logger zerolog.Logger) *Processor {
	return &Processor{
		commands: map[string]Command{},
		sender:   sender,
		logger:   logger.With().Str("component", "command").Logger(),
	}
}

// Register adds a command under name. Names are matched case-insensitively.
func (p *Processor) Register(name string, command Command) error {
	if command == nil {
		return fmt.Errorf("%w: %s", ErrNilCommand, name)
	}
	key := strings.ToLower(name)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.commands[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	p.commands[key] = command
	return nil
}

// Names returns the registered command names, lower-cased and sorted.
func (p *Processor) Names() []string {
	p.mu.RLock()
	names := make([]string, 0, len(p.commands))
	for name := range p.commands {
		names = append(names, name)
	}
	p.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (p *Processor) OnMessage(connectionID string, message []byte) []byte {
	ref, body := SplitMessage(message)
	reply := &Message{Ref: ref}

	request := &Message{}
	if err := json.Unmarshal(body, request); err != nil {
		reply.Status = StatusError
		reply.Error = "invalid command message: " + err.Error()
		return encode(reply)
	}

	if !p.busy.CompareAndSwap(false, true) {
		reply.Status = StatusBusy
		return encode(reply)
	}
	defer p.busy.Store(false)

	logger := p.logger.With().Str("conn", connectionID).Str("ref", ref).Str("cmd", request.Cmd).Logger()
	logger.Info().Msg("running command")

	output, err := p.run(&Call{
		ConnectionID: connectionID,
		Ref:          ref,
		Args:         request.Args,
		sender:       p.sender,
	}, request.Cmd)
	if err != nil {
		logger.Error().Err(err).Msg("command failed")
		reply.Status = StatusError
		reply.Error = err.Error()
		return encode(reply)
	}

	reply.Status = StatusSuccess
	reply.Output = output
	return encode(reply)
}

func (p *Processor) run(call *Call, name string) (string, error) {
	p.mu.RLock()
	command, ok := p.commands[strings.ToLower(name)]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	var output string
	err := jamn.Recover(func() error {
		var err error
		output, err = command(call)
		return err
	})
	return output, err
}

// OnError replies with the error text. When the failed message carried no
// reference the connection is closed as well.
func (p *Processor) OnError(connectionID string, message []byte, err error) ([]byte, bool) {
	ref, _ := SplitMessage(message)
	closeConnection := false
	if ref == "" {
		ref = GlobalRef
		closeConnection = true
	}

	text := "websocket error [" + err.Error() + "]"
	if closeConnection {
		text = "fatal " + text + ", connection will be closed"
	}
	p.logger.Error().Err(err).Str("conn", connectionID).Str("ref", ref).Bool("close", closeConnection).Msg("websocket error")

	return encode(&Message{Ref: ref, Status: StatusError, Error: text}), closeConnection
}

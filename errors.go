package jamn

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"strings"
)

// Error kinds. Errors produced by the server and its providers wrap one of
// these so callers can classify them with errors.Is or KindOf.
var (
	ErrTimeout       = errors.New("timeout")
	ErrSecurity      = errors.New("security rejection")
	ErrProtocolFatal = errors.New("fatal protocol error")
	ErrProtocol      = errors.New("protocol error")
	ErrInternal      = errors.New("internal error")
)

// Configuration errors, returned by setup calls.
var (
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrDuplicateProvider  = errors.New("content provider already registered")
	ErrNilPreprocessor    = errors.New("message preprocessor is nil")
	ErrDispatcherRequired = errors.New("several content providers registered without a dispatcher")
	ErrNotUpgradeProvider = errors.New("provider cannot take over raw connections")
	ErrServerRunning      = errors.New("server is already running")
	ErrServerStopped      = errors.New("server is not running")
)

// Kind classifies an error into one of the closed set of error kinds.
type Kind int

const (
	KindInternal Kind = iota
	KindTimeout
	KindSecurity
	KindProtocolFatal
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindSecurity:
		return "security"
	case KindProtocolFatal:
		return "protocol-fatal"
	case KindProtocol:
		return "protocol"
	default:
		return "internal"
	}
}

// KindOf classifies err. Network timeouts count as KindTimeout even when they
// do not wrap ErrTimeout. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var netErr net.Error
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return KindTimeout
	case errors.Is(err, ErrSecurity):
		return KindSecurity
	case errors.Is(err, ErrProtocolFatal):
		return KindProtocolFatal
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	}
	return KindInternal
}

// SecurityError returns an error of kind KindSecurity. Returning one from a
// preprocessor makes the server answer 403 Forbidden.
func SecurityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSecurity, fmt.Sprintf(format, args...))
}

// PanicError is a recovered panic. Stack holds the goroutine stack at the
// point of the panic, trimmed of the recovery frames.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			stackLines := strings.Split(string(debug.Stack()), "\n")
			if len(stackLines) > 6 {
				stackLines = stackLines[6:]
			}
			err = &PanicError{Value: v, Stack: strings.Join(stackLines, "\n")}
		}
	}()
	return fn()
}

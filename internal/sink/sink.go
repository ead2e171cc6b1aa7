// Package sink defines the single output a client delivers messages to and
// the text formatter used by the CLI.
package sink

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/tracetap/internal/message"
)

var (
	// ErrContractViolation marks misuse of the registration toggle. It
	// indicates a caller bug, not an environmental failure.
	ErrContractViolation = errors.New("sink contract violation")

	ErrAlreadyRegistered = fmt.Errorf("%w: a sink is already registered", ErrContractViolation)
	ErrNotRegistered     = fmt.Errorf("%w: no sink is registered", ErrContractViolation)
	ErrNilSink           = fmt.Errorf("%w: sink is nil", ErrContractViolation)
)

// Sink receives delivered messages one at a time on the dispatch goroutine.
// Output must return promptly and must tolerate rapid repeated calls.
type Sink interface {
	Output(msg message.Message)
}

// Func adapts a plain function to Sink.
type Func func(msg message.Message)

func (f Func) Output(msg message.Message) { f(msg) }

package messaging

import (
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/boristopalov/vecenv/pkg/core"
)

// CommandTag identifies what a worker should do with a Command.
type CommandTag uint8

const (
	CommandReset CommandTag = iota + 1
	CommandStep
	CommandSeed
	CommandClose
	CommandApply
)

func (t CommandTag) String() string {
	switch t {
	case CommandReset:
		return "reset"
	case CommandStep:
		return "step"
	case CommandSeed:
		return "seed"
	case CommandClose:
		return "close"
	case CommandApply:
		return "apply"
	default:
		return fmt.Sprintf("command(%d)", uint8(t))
	}
}

// Command is sent from the controller to one worker.
type Command struct {
	Tag    CommandTag
	Round  uint64      // echoed back in the Reply
	Action core.Action // CommandStep
	Seed   int64       // CommandSeed
	Work   any         // CommandApply; a remote.Work
}

// Reply is sent from a worker back to the controller, one per Command.
// When Success is false, Value is a string describing the failure.
type Reply struct {
	Round   uint64
	Value   any
	Success bool
}

// Failure builds the reply for a command that failed.
func Failure(round uint64, err error) Reply {
	return Reply{Round: round, Value: err.Error(), Success: false}
}

// Description returns the failure text of an unsuccessful reply.
func (r Reply) Description() string {
	if s, ok := r.Value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", r.Value)
}

var (
	ErrClosed      = errors.New("channel closed")
	ErrChannelFull = errors.New("channel is full")
	// ErrEncode marks a message the transport could not serialize. The
	// channel stays usable.
	ErrEncode = errors.New("message cannot be encoded")
)

// Endpoint is the controller's end of a worker channel.
type Endpoint interface {
	// Send delivers a command to the worker without blocking
	Send(cmd Command) error
	// Receive yields replies in the order the worker sent them.
	// The channel is closed when the worker's end goes away.
	Receive() <-chan Reply
	// Close tells the worker no more commands will arrive
	Close() error
}

// WorkerEndpoint is the worker's end of the channel.
type WorkerEndpoint interface {
	// Send delivers a reply to the controller
	Send(reply Reply) error
	// Receive yields commands in send order; closed when the controller goes away
	Receive() <-chan Command
	// Close tells the controller no more replies will arrive
	Close() error
}

func init() {
	gob.Register(Command{})
	gob.Register(Reply{})
}

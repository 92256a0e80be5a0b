package messaging

import (
	"sync"
)

// DefaultPipeCapacity bounds how many undelivered messages each direction of
// a Pipe can hold. The protocol keeps at most a couple in flight per worker;
// a full pipe means the peer stopped reading.
const DefaultPipeCapacity = 16

// pipeEnd owns the outgoing channel of one side of a Pipe.
type pipeEnd[Out, In any] struct {
	out    chan Out
	in     <-chan In
	mu     sync.RWMutex
	closed bool
}

func (p *pipeEnd[Out, In]) send(msg Out) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	// Non-blocking send
	select {
	case p.out <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

func (p *pipeEnd[Out, In]) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.out)
	return nil
}

type pipeController struct {
	pipeEnd[Command, Reply]
}

func (c *pipeController) Send(cmd Command) error { return c.send(cmd) }
func (c *pipeController) Receive() <-chan Reply  { return c.in }
func (c *pipeController) Close() error           { return c.close() }

type pipeWorker struct {
	pipeEnd[Reply, Command]
}

func (w *pipeWorker) Send(reply Reply) error  { return w.send(reply) }
func (w *pipeWorker) Receive() <-chan Command { return w.in }
func (w *pipeWorker) Close() error            { return w.close() }

// Pipe returns the two ends of an in-process duplex channel. Each direction
// is FIFO and holds up to capacity undelivered messages.
func Pipe(capacity int) (Endpoint, WorkerEndpoint) {
	if capacity <= 0 {
		capacity = DefaultPipeCapacity
	}
	commands := make(chan Command, capacity)
	replies := make(chan Reply, capacity)

	controller := &pipeController{pipeEnd[Command, Reply]{out: commands, in: replies}}
	worker := &pipeWorker{pipeEnd[Reply, Command]{out: replies, in: commands}}
	return controller, worker
}

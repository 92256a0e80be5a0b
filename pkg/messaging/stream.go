package messaging

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// stream frames messages with encoding/gob over a byte stream, typically the
// stdin/stdout pipes of a worker subprocess. Values carried in interface
// fields (actions, units of work, reply values) must be gob-registered.
type stream[Out, In any] struct {
	enc    *gob.Encoder
	w      io.WriteCloser
	in     chan In
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func newStream[Out, In any](r io.Reader, w io.WriteCloser) *stream[Out, In] {
	s := &stream[Out, In]{
		enc:  gob.NewEncoder(w),
		w:    w,
		in:   make(chan In, DefaultPipeCapacity),
		done: make(chan struct{}),
	}
	go s.readLoop(gob.NewDecoder(r))
	return s
}

func (s *stream[Out, In]) readLoop(dec *gob.Decoder) {
	defer close(s.in)
	for {
		var msg In
		if err := dec.Decode(&msg); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				log.Printf("messaging: stream decode failed: %v", err)
			}
			return
		}
		select {
		case s.in <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *stream[Out, In]) send(msg Out) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	// A failed Encode can leave the encoder's type state out of step with
	// the decoder, so encodability is checked on a throwaway encoder first.
	if err := gob.NewEncoder(io.Discard).Encode(&msg); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrEncode, msg, err)
	}
	if err := s.enc.Encode(&msg); err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	return nil
}

func (s *stream[Out, In]) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.w.Close()
}

type streamController struct {
	*stream[Command, Reply]
}

func (c streamController) Send(cmd Command) error { return c.send(cmd) }
func (c streamController) Receive() <-chan Reply  { return c.in }
func (c streamController) Close() error           { return c.close() }

type streamWorker struct {
	*stream[Reply, Command]
}

func (w streamWorker) Send(reply Reply) error  { return w.send(reply) }
func (w streamWorker) Receive() <-chan Command { return w.in }
func (w streamWorker) Close() error            { return w.close() }

// NewStreamEndpoint wraps the controller side of a byte stream: commands are
// written to w, replies are read from r.
func NewStreamEndpoint(r io.Reader, w io.WriteCloser) Endpoint {
	return streamController{newStream[Command, Reply](r, w)}
}

// NewWorkerStream wraps the worker side of a byte stream: commands are read
// from r, replies are written to w.
func NewWorkerStream(r io.Reader, w io.WriteCloser) WorkerEndpoint {
	return streamWorker{newStream[Reply, Command](r, w)}
}

// Package worker runs the loop that owns one environment on behalf of a
// VectorEnv: receive a command, run it against the env, send one reply.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/remote"
	"github.com/boristopalov/vecenv/pkg/shm"
)

// FinalObservationKey is the Info key holding the last observation of an
// episode that was automatically reset.
const FinalObservationKey = "final_observation"

// sendRetryInterval is how long Serve waits before retrying a reply the
// controller has not yet made room for.
const sendRetryInterval = time.Millisecond

type Option func(*worker)

// WithBuffer makes the worker write observations into slot of buf instead
// of sending them in replies.
func WithBuffer(buf *shm.Buffer, slot int) Option {
	return func(w *worker) {
		w.buffer = buf
		w.slot = slot
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(w *worker) {
		w.logger = logger
	}
}

// WithAutoReset controls whether a step that ends an episode resets the env
// before replying. Enabled by default.
func WithAutoReset(enabled bool) Option {
	return func(w *worker) {
		w.autoReset = enabled
	}
}

// WithName sets the prefix used in log lines.
func WithName(name string) Option {
	return func(w *worker) {
		w.name = name
	}
}

type worker struct {
	env       core.Env
	conn      messaging.WorkerEndpoint
	buffer    *shm.Buffer
	slot      int
	autoReset bool
	logger    *log.Logger
	name      string
}

// Serve builds an env with factory and answers commands from conn until a
// Close command arrives, the controller goes away, or ctx is done.
//
// The first reply, round 0, reports whether the env was built. A failure
// while handling a command, including a panic, is sent back as a failed
// reply and the loop keeps going, as is a reply the transport cannot encode.
func Serve(ctx context.Context, factory core.Factory, conn messaging.WorkerEndpoint, opts ...Option) error {
	w := &worker{
		conn:      conn,
		autoReset: true,
		logger:    log.Default(),
		name:      "worker",
	}
	for _, opt := range opts {
		opt(w)
	}
	defer conn.Close()

	env, err := build(factory)
	if err != nil {
		w.logger.Printf("%s: failed to build env: %v", w.name, err)
		if sendErr := w.send(ctx, messaging.Failure(0, err)); sendErr != nil {
			return errors.Join(err, sendErr)
		}
		return err
	}
	w.env = env
	if err := w.send(ctx, messaging.Reply{Round: 0, Success: true}); err != nil {
		env.Close()
		return fmt.Errorf("send ready: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			env.Close()
			return ctx.Err()
		case cmd, ok := <-conn.Receive():
			if !ok {
				// controller is gone; nothing left to reply to
				return env.Close()
			}
			if cmd.Tag == messaging.CommandClose {
				closeErr := env.Close()
				reply := messaging.Reply{Round: cmd.Round, Success: true}
				if closeErr != nil {
					reply = messaging.Failure(cmd.Round, closeErr)
				}
				if err := w.send(ctx, reply); err != nil {
					w.logger.Printf("%s: failed to acknowledge close: %v", w.name, err)
				}
				return closeErr
			}
			err := w.send(ctx, w.handle(ctx, cmd))
			if errors.Is(err, messaging.ErrEncode) {
				w.logger.Printf("%s: %s reply for round %d: %v", w.name, cmd.Tag, cmd.Round, err)
				err = w.send(ctx, messaging.Failure(cmd.Round, err))
			}
			if err != nil {
				env.Close()
				return fmt.Errorf("send reply for round %d: %w", cmd.Round, err)
			}
		}
	}
}

func build(factory core.Factory) (env core.Env, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("env factory panicked: %v", r)
		}
	}()
	env, err = factory()
	if err == nil && env == nil {
		err = errors.New("env factory returned nil env")
	}
	return env, err
}

// handle runs one command. It never panics.
func (w *worker) handle(ctx context.Context, cmd messaging.Command) (reply messaging.Reply) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Printf("%s: %s panicked: %v\n%s", w.name, cmd.Tag, r, debug.Stack())
			reply = messaging.Failure(cmd.Round, fmt.Errorf("panic: %v", r))
		}
	}()

	value, err := w.dispatch(ctx, cmd)
	if err != nil {
		return messaging.Failure(cmd.Round, err)
	}
	return messaging.Reply{Round: cmd.Round, Value: value, Success: true}
}

func (w *worker) dispatch(ctx context.Context, cmd messaging.Command) (any, error) {
	switch cmd.Tag {
	case messaging.CommandReset:
		obs, err := w.env.Reset(ctx)
		if err != nil {
			return nil, err
		}
		if obs, err = w.observation(obs); err != nil || obs == nil {
			return nil, err
		}
		return obs, nil

	case messaging.CommandStep:
		result, err := w.env.Step(ctx, cmd.Action)
		if err != nil {
			return nil, err
		}
		if result.Done && w.autoReset {
			final := result.Observation
			obs, err := w.env.Reset(ctx)
			if err != nil {
				return nil, fmt.Errorf("reset after episode end: %w", err)
			}
			if result.Info == nil {
				result.Info = core.Info{}
			}
			result.Info[FinalObservationKey] = final
			result.Observation = obs
		}
		if result.Observation, err = w.observation(result.Observation); err != nil {
			return nil, err
		}
		return result, nil

	case messaging.CommandSeed:
		return nil, w.env.Seed(cmd.Seed)

	case messaging.CommandApply:
		if cmd.Work == nil {
			return nil, nil
		}
		work, ok := cmd.Work.(remote.Work)
		if !ok {
			return nil, fmt.Errorf("apply payload %T is not a unit of work", cmd.Work)
		}
		return work.Apply(ctx, w.env)

	default:
		return nil, fmt.Errorf("unknown command %s", cmd.Tag)
	}
}

// observation returns what goes in the reply for obs: obs itself, or nil
// once it has been written to the shared buffer.
func (w *worker) observation(obs core.Observation) (core.Observation, error) {
	if w.buffer == nil {
		return obs, nil
	}
	if err := w.buffer.Write(w.slot, obs); err != nil {
		return nil, fmt.Errorf("write observation: %w", err)
	}
	return nil, nil
}

func (w *worker) send(ctx context.Context, reply messaging.Reply) error {
	for {
		err := w.conn.Send(reply)
		if !errors.Is(err, messaging.ErrChannelFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRetryInterval):
		}
	}
}

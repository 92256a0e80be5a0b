// Package vecenv runs N environments in workers and drives them in lockstep.
//
// Every public call is a round: a command goes to each addressed worker and
// exactly one reply per addressed worker comes back. The split Async/Wait
// variants expose the two halves of a round; a VectorEnv accepts a new async
// call only when no other call is pending.
package vecenv

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/shm"
)

// CallState is the kind of call a VectorEnv is waiting on.
type CallState int

const (
	StateIdle CallState = iota
	StateAwaitingReset
	StateAwaitingStep
	StateAwaitingApply

	// used only inside synchronous calls
	stateAwaitingSeed
	stateAwaitingClose
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingReset:
		return "reset"
	case StateAwaitingStep:
		return "step"
	case StateAwaitingApply:
		return "apply"
	case stateAwaitingSeed:
		return "seed"
	case stateAwaitingClose:
		return "close"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultProxyCacheSize = 64
	DefaultStartTimeout   = 30 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
)

type workerHandle struct {
	index int
	proc  Process
	conn  messaging.Endpoint
	alive bool
}

// VectorEnv owns a fixed set of workers, one env each.
type VectorEnv struct {
	mu sync.Mutex

	id      string
	workers []*workerHandle
	buffer  *shm.Buffer

	actionSpace      core.Space
	observationSpace core.Space
	rng              *rand.Rand

	// current round
	state         CallState
	round         uint64
	addressed     []int
	span          trace.Span
	expectsResult []bool

	proxies *lru.Cache[string, *Proxy]
	closed  bool

	launcher       Launcher
	sharedMemory   bool
	sharedDir      string
	logger         *log.Logger
	debug          bool
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	proxyCacheSize int
	startTimeout   time.Duration
	closeTimeout   time.Duration
}

type Option func(*VectorEnv)

// WithLauncher selects how workers are started. Defaults to InProcess.
func WithLauncher(l Launcher) Option {
	return func(v *VectorEnv) {
		v.launcher = l
	}
}

// WithSharedMemory makes workers hand observations over through a shared
// buffer instead of the reply channel.
func WithSharedMemory(enabled bool) Option {
	return func(v *VectorEnv) {
		v.sharedMemory = enabled
	}
}

// WithSharedMemoryDir sets where file-backed buffers for subprocess workers
// are created.
func WithSharedMemoryDir(dir string) Option {
	return func(v *VectorEnv) {
		v.sharedDir = dir
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(v *VectorEnv) {
		v.logger = logger
	}
}

// WithDebug logs every round and every discarded stale reply.
func WithDebug(debug bool) Option {
	return func(v *VectorEnv) {
		v.debug = debug
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *VectorEnv) {
		v.tracerProvider = tp
	}
}

func WithProxyCacheSize(size int) Option {
	return func(v *VectorEnv) {
		v.proxyCacheSize = size
	}
}

// WithStartTimeout bounds how long construction waits for every worker to
// report ready.
func WithStartTimeout(d time.Duration) Option {
	return func(v *VectorEnv) {
		v.startTimeout = d
	}
}

// WithCloseTimeout bounds each phase of Close before workers are killed.
func WithCloseTimeout(d time.Duration) Option {
	return func(v *VectorEnv) {
		v.closeTimeout = d
	}
}

// WithSeed seeds the source used by RandomActions.
func WithSeed(seed int64) Option {
	return func(v *VectorEnv) {
		v.rng = rand.New(rand.NewSource(seed))
	}
}

// New starts one worker per factory. Workers that rebuild their env in
// another process need registered names; use Make for those.
func New(factories []core.Factory, opts ...Option) (*VectorEnv, error) {
	return newVectorEnv(factories, nil, opts)
}

// Make starts n workers running the env registered under name.
func Make(name string, n int, opts ...Option) (*VectorEnv, error) {
	factory, err := core.Lookup(name)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("vecenv: need at least one env, got %d", n)
	}
	factories := make([]core.Factory, n)
	names := make([]string, n)
	for i := range factories {
		factories[i] = factory
		names[i] = name
	}
	return newVectorEnv(factories, names, opts)
}

func newVectorEnv(factories []core.Factory, names []string, opts []Option) (*VectorEnv, error) {
	if len(factories) == 0 {
		return nil, errors.New("vecenv: need at least one env factory")
	}
	v := &VectorEnv{
		id:             uuid.NewString(),
		launcher:       InProcess{},
		logger:         log.Default(),
		proxyCacheSize: DefaultProxyCacheSize,
		startTimeout:   DefaultStartTimeout,
		closeTimeout:   DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.rng == nil {
		v.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if v.tracerProvider == nil {
		v.tracerProvider = otel.GetTracerProvider()
	}
	v.tracer = v.tracerProvider.Tracer("github.com/boristopalov/vecenv/pkg/vecenv")

	proxies, err := lru.New[string, *Proxy](v.proxyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vecenv: proxy cache: %w", err)
	}
	v.proxies = proxies

	// Spaces come from a throwaway env built here, so every worker is
	// assumed to share them.
	dummy, err := factories[0]()
	if err != nil {
		return nil, &ConstructionError{Index: 0, Err: err}
	}
	v.actionSpace = dummy.ActionSpace()
	v.observationSpace = dummy.ObservationSpace()
	if err := dummy.Close(); err != nil {
		v.logger.Printf("vecenv %s: closing probe env: %v", v.shortID(), err)
	}

	n := len(factories)
	if v.sharedMemory {
		size := core.Size(v.observationSpace)
		if v.launcher.InProcess() {
			v.buffer, err = shm.New(n, size)
		} else {
			v.buffer, err = shm.Create(v.sharedDir, n, size)
		}
		if err != nil {
			return nil, &ConstructionError{Index: 0, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.startTimeout)
	defer cancel()

	for i, factory := range factories {
		spec := WorkerSpec{Index: i, Factory: factory, Buffer: v.buffer, Logger: v.logger}
		if names != nil {
			spec.EnvName = names[i]
		}
		proc, err := v.launcher.Launch(ctx, spec)
		if err != nil {
			v.abort()
			return nil, &ConstructionError{Index: i, Err: err}
		}
		v.workers = append(v.workers, &workerHandle{index: i, proc: proc, conn: proc.Endpoint(), alive: true})
	}
	for _, w := range v.workers {
		if err := v.awaitReady(ctx, w); err != nil {
			v.abort()
			return nil, &ConstructionError{Index: w.index, Err: err}
		}
	}

	v.expectsResult = make([]bool, n)
	v.logger.Printf("vecenv %s: started %d workers (action space %v, observation space %v)",
		v.shortID(), n, v.actionSpace, v.observationSpace)
	return v, nil
}

func (v *VectorEnv) awaitReady(ctx context.Context, w *workerHandle) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: not ready after %s", ErrTimeout, v.startTimeout)
	case reply, ok := <-w.conn.Receive():
		if !ok {
			w.alive = false
			return errors.New(errWorkerExited)
		}
		if !reply.Success {
			return errors.New(reply.Description())
		}
		return nil
	}
}

// abort tears down a partially constructed VectorEnv.
func (v *VectorEnv) abort() {
	for _, w := range v.workers {
		if err := w.proc.Kill(); err != nil {
			v.logger.Printf("vecenv %s: killing worker %d: %v", v.shortID(), w.index, err)
		}
		if err := waitExit(w.proc, v.closeTimeout); errors.Is(err, ErrTimeout) {
			v.logger.Printf("vecenv %s: worker %d did not exit", v.shortID(), w.index)
		}
		w.alive = false
	}
	v.release()
}

func (v *VectorEnv) ID() string { return v.id }

func (v *VectorEnv) shortID() string { return v.id[:8] }

// Len is the number of workers.
func (v *VectorEnv) Len() int { return len(v.workers) }

func (v *VectorEnv) ActionSpace() core.Space      { return v.actionSpace }
func (v *VectorEnv) ObservationSpace() core.Space { return v.observationSpace }

// State reports the call currently pending.
func (v *VectorEnv) State() CallState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// ExpectsResult reports which workers were sent work by the last ApplyAsync.
func (v *VectorEnv) ExpectsResult() []bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]bool(nil), v.expectsResult...)
}

// RandomActions samples one action per worker from the action space.
func (v *VectorEnv) RandomActions() []core.Action {
	v.mu.Lock()
	defer v.mu.Unlock()

	actions := make([]core.Action, len(v.workers))
	for i := range actions {
		actions[i] = v.actionSpace.Sample(v.rng)
	}
	return actions
}

// Reset resets every env and returns the initial observations.
func (v *VectorEnv) Reset(ctx context.Context) ([]core.Observation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.resetAsync(ctx); err != nil {
		return nil, err
	}
	return v.resetWait(ctx, 0)
}

func (v *VectorEnv) ResetAsync() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resetAsync(context.Background())
}

// ResetWait collects the replies of a ResetAsync. A zero timeout waits
// until ctx is done.
func (v *VectorEnv) ResetWait(ctx context.Context, timeout time.Duration) ([]core.Observation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.resetWait(ctx, timeout)
}

func (v *VectorEnv) resetAsync(ctx context.Context) error {
	if err := v.checkIdle(); err != nil {
		return err
	}
	return v.send(ctx, StateAwaitingReset, v.broadcast(messaging.Command{Tag: messaging.CommandReset}))
}

func (v *VectorEnv) resetWait(ctx context.Context, timeout time.Duration) ([]core.Observation, error) {
	if err := v.checkWaiting(StateAwaitingReset); err != nil {
		return nil, err
	}
	replies, err := v.gather(ctx, timeout)
	if replies == nil {
		return nil, err
	}

	observations := make([]core.Observation, len(replies))
	for i, reply := range replies {
		if !reply.Success {
			continue
		}
		obs, obsErr := v.observation(i, reply.Value)
		if obsErr != nil {
			err = firstError(err, obsErr)
			continue
		}
		observations[i] = obs
	}
	return observations, err
}

// Step sends actions[i] to worker i and returns the step results in worker
// order.
func (v *VectorEnv) Step(ctx context.Context, actions []core.Action) ([]core.StepResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.stepAsync(ctx, actions); err != nil {
		return nil, err
	}
	return v.stepWait(ctx, 0)
}

func (v *VectorEnv) StepAsync(actions []core.Action) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stepAsync(context.Background(), actions)
}

func (v *VectorEnv) StepWait(ctx context.Context, timeout time.Duration) ([]core.StepResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stepWait(ctx, timeout)
}

func (v *VectorEnv) stepAsync(ctx context.Context, actions []core.Action) error {
	if err := v.checkIdle(); err != nil {
		return err
	}
	if len(actions) != len(v.workers) {
		return fmt.Errorf("vecenv: got %d actions for %d workers", len(actions), len(v.workers))
	}
	cmds := make([]*messaging.Command, len(actions))
	for i, action := range actions {
		cmds[i] = &messaging.Command{Tag: messaging.CommandStep, Action: action}
	}
	return v.send(ctx, StateAwaitingStep, cmds)
}

func (v *VectorEnv) stepWait(ctx context.Context, timeout time.Duration) ([]core.StepResult, error) {
	if err := v.checkWaiting(StateAwaitingStep); err != nil {
		return nil, err
	}
	replies, err := v.gather(ctx, timeout)
	if replies == nil {
		return nil, err
	}

	results := make([]core.StepResult, len(replies))
	for i, reply := range replies {
		if !reply.Success {
			continue
		}
		result, ok := reply.Value.(core.StepResult)
		if !ok {
			err = firstError(err, &RemoteError{Index: i, Description: fmt.Sprintf("step returned %T", reply.Value)})
			continue
		}
		if v.buffer != nil {
			obs, readErr := v.buffer.Read(i)
			if readErr != nil {
				err = firstError(err, readErr)
				continue
			}
			result.Observation = obs
		}
		results[i] = result
	}
	return results, err
}

// Seed seeds worker i with seed+i and reseeds RandomActions with seed.
func (v *VectorEnv) Seed(ctx context.Context, seed int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	seeds := make([]int64, len(v.workers))
	for i := range seeds {
		seeds[i] = seed + int64(i)
	}
	if err := v.seedEach(ctx, seeds); err != nil {
		return err
	}
	v.rng = rand.New(rand.NewSource(seed))
	return nil
}

// SeedEach seeds worker i with seeds[i].
func (v *VectorEnv) SeedEach(ctx context.Context, seeds []int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seedEach(ctx, seeds)
}

func (v *VectorEnv) seedEach(ctx context.Context, seeds []int64) error {
	if err := v.checkIdle(); err != nil {
		return err
	}
	if len(seeds) != len(v.workers) {
		return fmt.Errorf("vecenv: got %d seeds for %d workers", len(seeds), len(v.workers))
	}
	cmds := make([]*messaging.Command, len(seeds))
	for i, seed := range seeds {
		cmds[i] = &messaging.Command{Tag: messaging.CommandSeed, Seed: seed}
	}
	if err := v.send(ctx, stateAwaitingSeed, cmds); err != nil {
		return err
	}
	_, err := v.gather(ctx, 0)
	return err
}

// Close finishes any pending call, asks every worker to close its env and
// exit, and kills workers that do not exit in time. Further calls return
// ErrClosed.
func (v *VectorEnv) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	ctx := context.Background()

	if pending := v.state; pending != StateIdle {
		if _, err := v.gather(ctx, v.closeTimeout); err != nil {
			v.logger.Printf("vecenv %s: dropping pending %s call: %v", v.shortID(), pending, err)
		}
	}

	var errs []error
	cmds := make([]*messaging.Command, len(v.workers))
	live := 0
	for i, w := range v.workers {
		if w.alive {
			cmds[i] = &messaging.Command{Tag: messaging.CommandClose}
			live++
		}
	}
	if live > 0 {
		if err := v.send(ctx, stateAwaitingClose, cmds); err != nil {
			errs = append(errs, err)
		} else if _, err := v.gather(ctx, v.closeTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	for _, w := range v.workers {
		w.conn.Close()
		if err := waitExit(w.proc, v.closeTimeout); err != nil {
			if errors.Is(err, ErrTimeout) {
				v.logger.Printf("vecenv %s: worker %d did not exit, killing it", v.shortID(), w.index)
				w.proc.Kill()
			} else {
				errs = append(errs, fmt.Errorf("worker %d: %w", w.index, err))
			}
		}
		w.alive = false
	}

	v.release()
	v.logger.Printf("vecenv %s: closed %d workers", v.shortID(), len(v.workers))
	return errors.Join(errs...)
}

// Terminate kills every worker without waiting for pending replies.
func (v *VectorEnv) Terminate() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	endSpan(v.span, ErrClosed)
	v.span = nil
	v.state = StateIdle

	var errs []error
	for _, w := range v.workers {
		if err := w.proc.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.index, err))
		}
	}
	for _, w := range v.workers {
		if err := waitExit(w.proc, v.closeTimeout); errors.Is(err, ErrTimeout) {
			v.logger.Printf("vecenv %s: worker %d did not exit", v.shortID(), w.index)
		}
		w.alive = false
	}
	v.release()
	return errors.Join(errs...)
}

func (v *VectorEnv) release() {
	if v.buffer != nil {
		if err := v.buffer.Close(); err != nil {
			v.logger.Printf("vecenv %s: releasing observation buffer: %v", v.shortID(), err)
		}
	}
	v.proxies.Purge()
	v.state = StateIdle
	v.closed = true
}

func waitExit(p Process, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- p.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrTimeout
	}
}

func (v *VectorEnv) checkIdle() error {
	if v.closed {
		return ErrClosed
	}
	if v.state != StateIdle {
		return &AlreadyPendingCallError{Pending: v.state}
	}
	return nil
}

func (v *VectorEnv) checkWaiting(expected CallState) error {
	if v.closed {
		return ErrClosed
	}
	if v.state != expected {
		return &NoAsyncCallError{Expected: expected, Actual: v.state}
	}
	return nil
}

func (v *VectorEnv) broadcast(cmd messaging.Command) []*messaging.Command {
	cmds := make([]*messaging.Command, len(v.workers))
	for i := range cmds {
		c := cmd
		cmds[i] = &c
	}
	return cmds
}

// send starts a round: cmds[i] goes to worker i, and workers with a nil
// entry are not addressed.
func (v *VectorEnv) send(ctx context.Context, state CallState, cmds []*messaging.Command) error {
	addressed := make([]int, 0, len(cmds))
	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		if !v.workers[i].alive {
			return &RemoteError{Index: i, Description: errWorkerExited}
		}
		addressed = append(addressed, i)
	}

	v.round++
	_, span := v.tracer.Start(ctx, "vecenv."+state.String(), trace.WithAttributes(
		attribute.String("vecenv.id", v.id),
		attribute.Int64("vecenv.round", int64(v.round)),
		attribute.Int("vecenv.addressed", len(addressed)),
	))
	if v.debug {
		v.logger.Printf("vecenv %s: round %d %s -> workers %v", v.shortID(), v.round, state, addressed)
	}

	for _, i := range addressed {
		cmd := *cmds[i]
		cmd.Round = v.round
		if err := v.workers[i].conn.Send(cmd); err != nil {
			// Workers already sent to will reply with a round nobody waits on.
			rerr := &RemoteError{Index: i, Description: fmt.Sprintf("send %s: %v", cmd.Tag, err)}
			endSpan(span, rerr)
			return rerr
		}
	}

	v.state = state
	v.addressed = addressed
	v.span = span
	return nil
}

// gather reads one reply per addressed worker of the current round and
// puts the VectorEnv back to idle, whatever the outcome.
//
// On success the returned slice has one entry per worker; unaddressed and
// failed workers hold a zero or failed Reply. The error is the first
// failure in worker order; later ones are logged.
func (v *VectorEnv) gather(ctx context.Context, timeout time.Duration) ([]messaging.Reply, error) {
	call := v.state
	addressed := v.addressed
	span := v.span
	v.state = StateIdle
	v.addressed = nil
	v.span = nil

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	replies := make([]messaging.Reply, len(v.workers))
	for i := range replies {
		replies[i] = messaging.Reply{Success: true}
	}
	for k, i := range addressed {
		reply, err := v.receive(ctx, v.workers[i])
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = &TimeoutError{Call: call.String(), Timeout: timeout, Pending: append([]int(nil), addressed[k:]...)}
			} else {
				err = fmt.Errorf("vecenv: %s: %w", call, err)
			}
			endSpan(span, err)
			return nil, err
		}
		replies[i] = reply
	}

	var first error
	for _, i := range addressed {
		if replies[i].Success {
			continue
		}
		rerr := &RemoteError{Index: i, Description: replies[i].Description()}
		if first == nil {
			first = rerr
		} else {
			v.logger.Printf("vecenv %s: %s: %v", v.shortID(), call, rerr)
		}
	}
	endSpan(span, first)
	return replies, first
}

// receive returns the reply of the current round from w, dropping replies
// left over from rounds that timed out.
func (v *VectorEnv) receive(ctx context.Context, w *workerHandle) (messaging.Reply, error) {
	for {
		select {
		case <-ctx.Done():
			return messaging.Reply{}, ctx.Err()
		case reply, ok := <-w.conn.Receive():
			if !ok {
				w.alive = false
				return messaging.Reply{Round: v.round, Value: errWorkerExited}, nil
			}
			if reply.Round != v.round {
				if v.debug {
					v.logger.Printf("vecenv %s: discarding stale reply from worker %d (round %d, want %d)",
						v.shortID(), w.index, reply.Round, v.round)
				}
				continue
			}
			return reply, nil
		}
	}
}

func (v *VectorEnv) observation(i int, value any) (core.Observation, error) {
	if v.buffer != nil {
		return v.buffer.Read(i)
	}
	if value == nil {
		return nil, nil
	}
	obs, ok := value.(core.Observation)
	if !ok {
		return nil, &RemoteError{Index: i, Description: fmt.Sprintf("reset returned %T", value)}
	}
	return obs, nil
}

func firstError(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

package vecenv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/remote"
)

// Apply runs ApplyAsync then ApplyWait. The wait is bounded by ctx.
func (v *VectorEnv) Apply(ctx context.Context, work ...remote.Work) ([]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.apply(ctx, work)
}

// ApplyAsync starts an apply round. A single unit of work is sent to every
// worker. Otherwise work needs one entry per worker, and a nil entry leaves
// that worker out of the round.
func (v *VectorEnv) ApplyAsync(work ...remote.Work) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.applyAsync(context.Background(), work)
}

// ApplyWait collects the results of ApplyAsync, one per worker. Workers
// that were not addressed, and workers whose work failed, have a nil
// result. The error is the first failure in worker order. A zero timeout
// waits until ctx is done.
func (v *VectorEnv) ApplyWait(ctx context.Context, timeout time.Duration) ([]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.applyWait(ctx, timeout)
}

// ApplyAt runs work on worker i alone and returns its single result.
func (v *VectorEnv) ApplyAt(ctx context.Context, work remote.Work, i int) (any, error) {
	results, err := v.ApplyAtIndices(ctx, work, []int{i})
	if results == nil {
		return nil, err
	}
	return results[0], err
}

// ApplyAtIndices runs work on the given workers in one round. Results are
// in the order of indices, which may repeat; a repeated worker runs the
// work once.
func (v *VectorEnv) ApplyAtIndices(ctx context.Context, work remote.Work, indices []int) ([]any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if work == nil {
		return nil, errors.New("vecenv: nil unit of work")
	}
	resolved, err := v.resolveIndices(indices)
	if err != nil {
		return nil, err
	}
	units := make([]remote.Work, len(v.workers))
	for _, i := range resolved {
		units[i] = work
	}

	results, err := v.apply(ctx, units)
	if results == nil {
		return nil, err
	}
	out := make([]any, len(resolved))
	for k, i := range resolved {
		out[k] = results[i]
	}
	return out, err
}

func (v *VectorEnv) apply(ctx context.Context, work []remote.Work) ([]any, error) {
	if err := v.applyAsync(ctx, work); err != nil {
		return nil, err
	}
	return v.applyWait(ctx, 0)
}

func (v *VectorEnv) applyAsync(ctx context.Context, work []remote.Work) error {
	if err := v.checkIdle(); err != nil {
		return err
	}

	n := len(v.workers)
	var units []remote.Work
	switch len(work) {
	case 1:
		units = make([]remote.Work, n)
		for i := range units {
			units[i] = work[0]
		}
	case n:
		units = work
	default:
		return fmt.Errorf("vecenv: got %d units of work for %d workers", len(work), n)
	}

	if !v.launcher.InProcess() {
		for i, w := range units {
			if w != nil && !remote.Portable(w) {
				return fmt.Errorf("vecenv: %T for worker %d cannot be sent to a subprocess worker", w, i)
			}
		}
	}

	cmds := make([]*messaging.Command, n)
	expects := make([]bool, n)
	for i, w := range units {
		if w == nil {
			continue
		}
		cmds[i] = &messaging.Command{Tag: messaging.CommandApply, Work: w}
		expects[i] = true
	}
	v.expectsResult = expects
	return v.send(ctx, StateAwaitingApply, cmds)
}

func (v *VectorEnv) applyWait(ctx context.Context, timeout time.Duration) ([]any, error) {
	if err := v.checkWaiting(StateAwaitingApply); err != nil {
		return nil, err
	}
	replies, err := v.gather(ctx, timeout)
	if replies == nil {
		return nil, err
	}

	results := make([]any, len(replies))
	for i, reply := range replies {
		if v.expectsResult[i] && reply.Success {
			results[i] = reply.Value
		}
	}
	return results, err
}

// resolveIndices checks indices against the worker count. Negative indices
// count from the end.
func (v *VectorEnv) resolveIndices(indices []int) ([]int, error) {
	if len(indices) == 0 {
		return nil, errors.New("vecenv: no workers addressed")
	}
	n := len(v.workers)
	out := make([]int, len(indices))
	for k, i := range indices {
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, fmt.Errorf("vecenv: index %d out of range for %d workers", indices[k], n)
		}
		out[k] = i
	}
	return out, nil
}

package vecenv

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/boristopalov/vecenv/pkg/remote"
)

// Proxy routes attribute access to a fixed, ordered set of workers. Every
// operation is one apply round; results come back in the proxy's order.
type Proxy struct {
	env     *VectorEnv
	indices []int
	scalar  bool
}

// Attribute is a resolved attribute: plain values, or a BatchedMethod when
// the name is a method on every addressed worker.
type Attribute struct {
	Values []any
	Method *BatchedMethod
}

func (a Attribute) IsMethod() bool { return a.Method != nil }

// BatchedMethod is a method resolved on every worker of a proxy. Calling it
// invokes the method on all of them in one round.
type BatchedMethod struct {
	Name  string
	proxy *Proxy
}

func (m *BatchedMethod) Indices() []int { return m.proxy.Indices() }

// Call invokes the method with args on every worker and returns the results
// in the proxy's order.
func (m *BatchedMethod) Call(ctx context.Context, args ...any) ([]any, error) {
	return m.proxy.Call(ctx, m.Name, args...)
}

// At addresses worker i. A negative i counts from the end.
func (v *VectorEnv) At(i int) (*Proxy, error) {
	return v.newProxy([]int{i}, true)
}

// Slice addresses workers [start, stop) with the clamping of a Python
// slice. Negative bounds count from the end.
func (v *VectorEnv) Slice(start, stop int) (*Proxy, error) {
	n := len(v.workers)
	start, stop = clamp(start, n), clamp(stop, n)
	if start >= stop {
		return nil, fmt.Errorf("vecenv: empty slice [%d:%d] of %d workers", start, stop, n)
	}
	indices := make([]int, 0, stop-start)
	for i := start; i < stop; i++ {
		indices = append(indices, i)
	}
	return v.newProxy(indices, false)
}

// Select addresses the given workers in the given order. Duplicates are
// kept.
func (v *VectorEnv) Select(indices ...int) (*Proxy, error) {
	return v.newProxy(indices, false)
}

// Mask addresses the workers whose entry is true. mask needs one entry per
// worker.
func (v *VectorEnv) Mask(mask []bool) (*Proxy, error) {
	if len(mask) != len(v.workers) {
		return nil, fmt.Errorf("vecenv: mask has %d entries for %d workers", len(mask), len(v.workers))
	}
	var indices []int
	for i, selected := range mask {
		if selected {
			indices = append(indices, i)
		}
	}
	return v.newProxy(indices, false)
}

// All addresses every worker.
func (v *VectorEnv) All() *Proxy {
	indices := make([]int, len(v.workers))
	for i := range indices {
		indices[i] = i
	}
	p, err := v.newProxy(indices, false)
	if err != nil {
		// closed; every call through it fails with ErrClosed
		return &Proxy{env: v, indices: indices}
	}
	return p
}

func (v *VectorEnv) newProxy(indices []int, scalar bool) (*Proxy, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, ErrClosed
	}
	resolved, err := v.resolveIndices(indices)
	if err != nil {
		return nil, err
	}

	key := proxyKey(resolved, scalar)
	if p, ok := v.proxies.Get(key); ok {
		return p, nil
	}
	p := &Proxy{env: v, indices: resolved, scalar: scalar}
	v.proxies.Add(key, p)
	return p, nil
}

func proxyKey(indices []int, scalar bool) string {
	var b strings.Builder
	if scalar {
		b.WriteByte('#')
	}
	for k, i := range indices {
		if k > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

func clamp(i, n int) int {
	if i < 0 {
		i += n
	}
	return max(0, min(i, n))
}

func (p *Proxy) Indices() []int { return append([]int(nil), p.indices...) }

// Scalar reports whether the proxy was built from a single index with At.
func (p *Proxy) Scalar() bool { return p.scalar }

func (p *Proxy) Len() int { return len(p.indices) }

// Get reads name on every addressed worker. A name that resolves to a
// method yields a remote.MethodRef.
func (p *Proxy) Get(ctx context.Context, name string) ([]any, error) {
	return p.env.ApplyAtIndices(ctx, remote.Get{Name: name}, p.indices)
}

// Value reads name like Get, but a scalar proxy yields the bare value.
func (p *Proxy) Value(ctx context.Context, name string) (any, error) {
	values, err := p.Get(ctx, name)
	if !p.scalar {
		return values, err
	}
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// Resolve reads name and, when it is a method on every addressed worker,
// returns a BatchedMethod instead of the values.
func (p *Proxy) Resolve(ctx context.Context, name string) (Attribute, error) {
	values, err := p.Get(ctx, name)
	if err != nil {
		return Attribute{}, err
	}
	for _, value := range values {
		if _, ok := value.(remote.MethodRef); !ok {
			return Attribute{Values: values}, nil
		}
	}
	return Attribute{Method: &BatchedMethod{Name: name, proxy: p}}, nil
}

// Method resolves name and fails unless it is a method on every addressed
// worker.
func (p *Proxy) Method(ctx context.Context, name string) (*BatchedMethod, error) {
	attr, err := p.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if !attr.IsMethod() {
		return nil, fmt.Errorf("%w: %q is not a method on workers %v", ErrAttribute, name, p.indices)
	}
	return attr.Method, nil
}

// Set writes name on every addressed worker.
func (p *Proxy) Set(ctx context.Context, name string, value any) error {
	_, err := p.env.ApplyAtIndices(ctx, remote.Set{Name: name, Value: value}, p.indices)
	return err
}

// Call invokes method name with args on every addressed worker.
func (p *Proxy) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	return p.env.ApplyAtIndices(ctx, remote.Call{Name: name, Args: args}, p.indices)
}

// GetAttributes reads several names in one round. Each entry holds one
// worker's values in the order of names.
func (p *Proxy) GetAttributes(ctx context.Context, names ...string) ([][]any, error) {
	results, err := p.env.ApplyAtIndices(ctx, remote.GetMany{Names: names}, p.indices)
	if results == nil {
		return nil, err
	}
	out := make([][]any, len(results))
	for k, result := range results {
		out[k], _ = result.([]any)
	}
	return out, err
}

// SetAttributes writes several names in one round.
func (p *Proxy) SetAttributes(ctx context.Context, values map[string]any) error {
	_, err := p.env.ApplyAtIndices(ctx, remote.SetMany{Values: values}, p.indices)
	return err
}

// GetAttr looks name up on every worker. Unless all of them have it, the
// result is an *AttributeError listing the workers that do not.
func (v *VectorEnv) GetAttr(ctx context.Context, name string) (Attribute, error) {
	results, err := v.Apply(ctx, remote.Has{Name: name})
	if err != nil {
		return Attribute{}, err
	}
	var missing []int
	for i, result := range results {
		if has, _ := result.(bool); !has {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		return Attribute{}, &AttributeError{Name: name, Missing: missing}
	}
	return v.All().Resolve(ctx, name)
}

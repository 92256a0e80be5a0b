// Package remote defines the units of work a coordinator ships to its
// workers, and the reflective attribute access they perform on the
// worker's environment.
package remote

import (
	"context"
	"encoding/gob"

	"github.com/boristopalov/vecenv/pkg/core"
)

// Work is a unit of logic applied to a worker's environment. The value it
// returns becomes that worker's result for the round.
type Work interface {
	Apply(ctx context.Context, env core.Env) (any, error)
}

// Func adapts a closure to Work. Closures cannot cross a process boundary,
// so Func only works with in-process workers.
type Func func(ctx context.Context, env core.Env) (any, error)

func (f Func) Apply(ctx context.Context, env core.Env) (any, error) {
	return f(ctx, env)
}

// Portable reports whether w can be sent to a worker in another process.
// Work types outside this package opt in with a Portable method, and must
// be gob-registered.
func Portable(w Work) bool {
	switch w.(type) {
	case Get, GetMany, Set, SetMany, Call, Has:
		return true
	}
	if p, ok := w.(interface{ Portable() bool }); ok {
		return p.Portable()
	}
	return false
}

// MethodRef is what Get yields for an attribute that resolves to a method.
type MethodRef struct {
	Name string
}

// Get reads one attribute.
type Get struct {
	Name string
}

func (g Get) Apply(ctx context.Context, env core.Env) (any, error) {
	return Lookup(env, g.Name)
}

// GetMany reads several attributes in one round. The result is a []any in
// the order of Names.
type GetMany struct {
	Names []string
}

func (g GetMany) Apply(ctx context.Context, env core.Env) (any, error) {
	out := make([]any, len(g.Names))
	for i, name := range g.Names {
		v, err := Lookup(env, name)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Set writes one attribute on the first wrapper that already has it. The
// result is the type name of the object that was written.
type Set struct {
	Name  string
	Value any
}

func (s Set) Apply(ctx context.Context, env core.Env) (any, error) {
	return Assign(env, s.Name, s.Value)
}

// SetMany writes several attributes in one round. The result maps each name
// to the type name of the object that was written.
type SetMany struct {
	Values map[string]any
}

func (s SetMany) Apply(ctx context.Context, env core.Env) (any, error) {
	out := make(map[string]any, len(s.Values))
	for name, value := range s.Values {
		target, err := Assign(env, name, value)
		if err != nil {
			return nil, err
		}
		out[name] = target
	}
	return out, nil
}

// Call invokes a method by name with Args.
type Call struct {
	Name string
	Args []any
}

func (c Call) Apply(ctx context.Context, env core.Env) (any, error) {
	return Invoke(ctx, env, c.Name, c.Args...)
}

// Has reports whether the env or one of its wrappers has the attribute.
type Has struct {
	Name string
}

func (h Has) Apply(ctx context.Context, env core.Env) (any, error) {
	_, _, found := resolve(env, h.Name)
	return found, nil
}

func init() {
	gob.Register(MethodRef{})
	gob.Register(Get{})
	gob.Register(GetMany{})
	gob.Register(Set{})
	gob.Register(SetMany{})
	gob.Register(Call{})
	gob.Register(Has{})
}

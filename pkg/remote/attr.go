package remote

import (
	"context"
	"fmt"
	"reflect"

	"github.com/boristopalov/vecenv/pkg/core"
)

// maxWrapperDepth bounds the walk down a wrapper chain.
const maxWrapperDepth = 64

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// AttributeError reports a name that no object in the wrapper chain has.
type AttributeError struct {
	Name string
}

func (e *AttributeError) Error() string {
	return fmt.Sprintf("no attribute %q", e.Name)
}

type attrKind int

const (
	attrField attrKind = iota + 1
	attrMethod
	attrStored
)

type location struct {
	owner core.Env
	kind  attrKind
	value reflect.Value
}

// Chain returns env followed by every env it wraps, outermost first. The
// walk stops at the first non-wrapper, at an object already visited, or
// after maxWrapperDepth steps.
func Chain(env core.Env) []core.Env {
	visited := make(map[uintptr]bool)
	var out []core.Env
	cur := env
	for depth := 0; cur != nil && depth < maxWrapperDepth; depth++ {
		if id, ok := identity(cur); ok {
			if visited[id] {
				break
			}
			visited[id] = true
		}
		out = append(out, cur)

		w, ok := cur.(core.Wrapper)
		if !ok {
			break
		}
		cur = w.Unwrap()
	}
	return out
}

func identity(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return rv.Pointer(), true
	}
	return 0, false
}

// lookupIn finds name on a single object: a method, then an exported field,
// then an entry in its AttrStore.
func lookupIn(obj core.Env, name string) (location, bool) {
	rv := reflect.ValueOf(obj)
	if m := rv.MethodByName(name); m.IsValid() {
		return location{owner: obj, kind: attrMethod, value: m}, true
	}

	sv := rv
	for sv.Kind() == reflect.Pointer || sv.Kind() == reflect.Interface {
		if sv.IsNil() {
			return location{}, false
		}
		sv = sv.Elem()
	}
	if sv.Kind() == reflect.Struct {
		if sf, ok := sv.Type().FieldByName(name); ok && sf.IsExported() {
			f, err := sv.FieldByIndexErr(sf.Index)
			if err == nil && f.CanInterface() {
				return location{owner: obj, kind: attrField, value: f}, true
			}
		}
	}

	if store, ok := obj.(core.AttrStore); ok {
		if v, ok := store.GetAttr(name); ok {
			return location{owner: obj, kind: attrStored, value: reflect.ValueOf(v)}, true
		}
	}
	return location{}, false
}

func resolve(env core.Env, name string) (location, []core.Env, bool) {
	chain := Chain(env)
	for _, obj := range chain {
		if loc, ok := lookupIn(obj, name); ok {
			return loc, chain, true
		}
	}
	return location{}, chain, false
}

// Lookup reads name from the first object in env's wrapper chain that has
// it. Methods are returned as a MethodRef.
func Lookup(env core.Env, name string) (any, error) {
	loc, _, found := resolve(env, name)
	if !found {
		return nil, &AttributeError{Name: name}
	}
	switch loc.kind {
	case attrMethod:
		return MethodRef{Name: name}, nil
	case attrStored:
		if !loc.value.IsValid() {
			return nil, nil
		}
	}
	return loc.value.Interface(), nil
}

// Assign writes value to name on the first object in env's wrapper chain
// that already has it. When none does, the innermost env's AttrStore takes
// the value. It returns the type name of the object written.
func Assign(env core.Env, name string, value any) (string, error) {
	loc, chain, found := resolve(env, name)
	if !found {
		if len(chain) == 0 {
			return "", &AttributeError{Name: name}
		}
		innermost := chain[len(chain)-1]
		store, ok := innermost.(core.AttrStore)
		if !ok {
			return "", &AttributeError{Name: name}
		}
		store.SetAttr(name, value)
		return typeName(innermost), nil
	}

	switch loc.kind {
	case attrMethod:
		return "", fmt.Errorf("cannot assign to method %q of %s", name, typeName(loc.owner))
	case attrStored:
		loc.owner.(core.AttrStore).SetAttr(name, value)
	case attrField:
		if !loc.value.CanSet() {
			return "", fmt.Errorf("field %q of %s is not settable", name, typeName(loc.owner))
		}
		v, err := convert(value, loc.value.Type())
		if err != nil {
			return "", fmt.Errorf("set %q: %w", name, err)
		}
		loc.value.Set(v)
	}
	return typeName(loc.owner), nil
}

// Invoke calls the method name with args. A leading context.Context
// parameter receives ctx. A trailing error result is returned as the error;
// remaining results come back as nil, a single value, or a []any.
func Invoke(ctx context.Context, env core.Env, name string, args ...any) (any, error) {
	loc, _, found := resolve(env, name)
	if !found {
		return nil, &AttributeError{Name: name}
	}
	if loc.kind != attrMethod {
		return nil, fmt.Errorf("attribute %q of %s is not a method", name, typeName(loc.owner))
	}

	m := loc.value
	mt := m.Type()
	n := mt.NumIn()
	in := make([]reflect.Value, 0, len(args)+1)
	offset := 0
	if n > 0 && mt.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		offset = 1
	}

	want := n - offset
	if mt.IsVariadic() {
		if len(args) < want-1 {
			return nil, fmt.Errorf("%s expects at least %d arguments, got %d", name, want-1, len(args))
		}
	} else if len(args) != want {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", name, want, len(args))
	}

	for i, a := range args {
		idx := i + offset
		var pt reflect.Type
		if mt.IsVariadic() && idx >= n-1 {
			pt = mt.In(n - 1).Elem()
		} else {
			pt = mt.In(idx)
		}
		v, err := convert(a, pt)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", name, i, err)
		}
		in = append(in, v)
	}

	out := m.Call(in)
	if k := len(out); k > 0 && mt.Out(k-1) == errorType {
		if errv := out[k-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		out = out[:k-1]
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		values := make([]any, len(out))
		for i, v := range out {
			values[i] = v.Interface()
		}
		return values, nil
	}
}

// convert adapts a value decoded off the wire to the type the receiving
// field or parameter declares.
func convert(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("cannot use nil as %s", t)
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	vk, tk := v.Kind(), t.Kind()
	if (isNumeric(vk) && isNumeric(tk)) || (vk == tk && vk != reflect.Slice) {
		if v.Type().ConvertibleTo(t) {
			return v.Convert(t), nil
		}
	}
	if tk == reflect.Slice && (vk == reflect.Slice || vk == reflect.Array) {
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := convert(v.Index(i).Interface(), t.Elem())
			if err != nil {
				return reflect.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(elem)
		}
		return out, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", value, t)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/vecenv"
)

const (
	historyFile = ".vecenv_history"
	shellPrompt = "vecenv> "
)

const shellHelp = `commands:
  reset                        reset every env
  step [ACTION...]             step every env; random actions when none given
  seed N                       seed worker i with N+i
  get NAME [@TARGET]           read an attribute
  set NAME VALUE [@TARGET]     write an attribute
  call NAME [ARG...] [@TARGET] call a method
  attr NAME                    look NAME up on every worker
  len | state | spaces
  quit
targets: @all (default), @2, @-1, @0:2, @1,3`

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := withSignals(cmd.Context())
	defer cancel()

	v, err := newVectorEnv(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer v.Close()

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	sh := &shell{env: v, out: cmd.OutOrStdout()}
	fmt.Fprintf(sh.out, "%s with %d workers. Type help for commands.\n", cfg.Env, v.Len())
	for {
		line, err := ln.Prompt(shellPrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(sh.out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		exit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
		if exit {
			return nil
		}
	}
}

// shell interprets one command line at a time against a VectorEnv.
type shell struct {
	env *vecenv.VectorEnv
	out io.Writer
}

func (s *shell) exec(ctx context.Context, line string) (exit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, shellHelp)
	case "len":
		fmt.Fprintln(s.out, s.env.Len())
	case "state":
		fmt.Fprintln(s.out, s.env.State())
	case "spaces":
		fmt.Fprintf(s.out, "action: %v\nobservation: %v\n", s.env.ActionSpace(), s.env.ObservationSpace())
	case "reset":
		obs, err := s.env.Reset(ctx)
		if err != nil {
			return false, err
		}
		s.printEach(len(obs), func(i int) any { return obs[i] })
	case "step":
		actions := s.env.RandomActions()
		if len(args) > 0 {
			if len(args) != s.env.Len() {
				return false, fmt.Errorf("step needs %d actions, got %d", s.env.Len(), len(args))
			}
			for i, a := range args {
				actions[i] = s.action(parseValue(a))
			}
		}
		results, err := s.env.Step(ctx, actions)
		if results != nil {
			s.printEach(len(results), func(i int) any {
				r := results[i]
				return fmt.Sprintf("obs=%v reward=%.3f done=%t", r.Observation, r.Reward, r.Done)
			})
		}
		return false, err
	case "seed":
		if len(args) != 1 {
			return false, errors.New("usage: seed N")
		}
		seed, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return false, err
		}
		return false, s.env.Seed(ctx, seed)
	case "get", "set", "call":
		return false, s.attribute(ctx, name, args)
	case "attr":
		if len(args) != 1 {
			return false, errors.New("usage: attr NAME")
		}
		attr, err := s.env.GetAttr(ctx, args[0])
		if err != nil {
			return false, err
		}
		if attr.IsMethod() {
			fmt.Fprintf(s.out, "method %s on workers %v\n", attr.Method.Name, attr.Method.Indices())
			return false, nil
		}
		s.printEach(len(attr.Values), func(i int) any { return attr.Values[i] })
	default:
		return false, fmt.Errorf("unknown command %q; type help", name)
	}
	return false, nil
}

func (s *shell) attribute(ctx context.Context, verb string, args []string) error {
	target := "all"
	if n := len(args); n > 0 && strings.HasPrefix(args[n-1], "@") {
		target, args = strings.TrimPrefix(args[n-1], "@"), args[:n-1]
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: %s NAME ...", verb)
	}
	proxy, err := s.target(target)
	if err != nil {
		return err
	}

	var values []any
	switch verb {
	case "get":
		if len(args) != 1 {
			return errors.New("usage: get NAME [@TARGET]")
		}
		values, err = proxy.Get(ctx, args[0])
	case "set":
		if len(args) != 2 {
			return errors.New("usage: set NAME VALUE [@TARGET]")
		}
		return proxy.Set(ctx, args[0], parseValue(args[1]))
	case "call":
		callArgs := make([]any, len(args)-1)
		for i, a := range args[1:] {
			callArgs[i] = parseValue(a)
		}
		values, err = proxy.Call(ctx, args[0], callArgs...)
	}
	if err != nil {
		return err
	}
	indices := proxy.Indices()
	for k, value := range values {
		fmt.Fprintf(s.out, "[%d] %v\n", indices[k], value)
	}
	return nil
}

// target parses all, i, start:stop or i,j,... into a proxy.
func (s *shell) target(spec string) (*vecenv.Proxy, error) {
	switch {
	case spec == "all" || spec == "":
		return s.env.All(), nil
	case strings.Contains(spec, ":"):
		lo, hi, _ := strings.Cut(spec, ":")
		start, stop := 0, s.env.Len()
		var err error
		if lo != "" {
			if start, err = strconv.Atoi(lo); err != nil {
				return nil, fmt.Errorf("bad slice start %q", lo)
			}
		}
		if hi != "" {
			if stop, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("bad slice stop %q", hi)
			}
		}
		return s.env.Slice(start, stop)
	case strings.Contains(spec, ","):
		parts := strings.Split(spec, ",")
		indices := make([]int, len(parts))
		for k, p := range parts {
			i, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("bad index %q", p)
			}
			indices[k] = i
		}
		return s.env.Select(indices...)
	default:
		i, err := strconv.Atoi(spec)
		if err != nil {
			return nil, fmt.Errorf("bad target %q", spec)
		}
		return s.env.At(i)
	}
}

// action adapts a typed-in value to the action space: a number becomes a
// one-element vector for a one-dimensional Box.
func (s *shell) action(value any) core.Action {
	box, ok := s.env.ActionSpace().(core.Box)
	if !ok || len(box.Low) != 1 {
		return value
	}
	switch v := value.(type) {
	case int:
		return []float64{float64(v)}
	case float64:
		return []float64{v}
	}
	return value
}

func (s *shell) printEach(n int, value func(i int) any) {
	for i := 0; i < n; i++ {
		fmt.Fprintf(s.out, "[%d] %v\n", i, value(i))
	}
}

// parseValue reads an int, a float, a bool or, failing those, a string
// with optional quotes.
func parseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return strings.Trim(s, `"'`)
}

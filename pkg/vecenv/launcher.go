package vecenv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"

	"github.com/boristopalov/vecenv/pkg/core"
	"github.com/boristopalov/vecenv/pkg/messaging"
	"github.com/boristopalov/vecenv/pkg/shm"
	"github.com/boristopalov/vecenv/pkg/worker"
)

// WorkerSpec is everything a Launcher needs to start one worker.
type WorkerSpec struct {
	Index   int
	Factory core.Factory
	// EnvName is the registered name of the env, required by launchers
	// that rebuild the env in another process
	EnvName string
	// Buffer is the shared observation buffer, nil when disabled
	Buffer *shm.Buffer
	Logger *log.Logger
}

// Process is a running worker.
type Process interface {
	Endpoint() messaging.Endpoint
	// Wait blocks until the worker has exited
	Wait() error
	Kill() error
}

// Launcher starts workers.
type Launcher interface {
	Launch(ctx context.Context, spec WorkerSpec) (Process, error)
	// InProcess reports whether workers share the controller's address
	// space. Only in-process workers accept remote.Func work.
	InProcess() bool
}

// InProcess runs each worker as a goroutine connected by a messaging.Pipe.
type InProcess struct {
	// Capacity of each pipe direction; zero uses the messaging default
	Capacity int
}

func (l InProcess) InProcess() bool { return true }

func (l InProcess) Launch(_ context.Context, spec WorkerSpec) (Process, error) {
	controller, conn := messaging.Pipe(l.Capacity)
	ctx, cancel := context.WithCancel(context.Background())

	opts := []worker.Option{worker.WithName(fmt.Sprintf("worker %d", spec.Index))}
	if spec.Logger != nil {
		opts = append(opts, worker.WithLogger(spec.Logger))
	}
	if spec.Buffer != nil {
		opts = append(opts, worker.WithBuffer(spec.Buffer, spec.Index))
	}

	p := &goroutineProcess{conn: controller, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.err = worker.Serve(ctx, spec.Factory, conn, opts...)
	}()
	return p, nil
}

type goroutineProcess struct {
	conn   messaging.Endpoint
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *goroutineProcess) Endpoint() messaging.Endpoint { return p.conn }

func (p *goroutineProcess) Wait() error {
	<-p.done
	if errors.Is(p.err, context.Canceled) {
		return nil
	}
	return p.err
}

// Kill stops the worker at its next command boundary. A goroutine stuck
// inside the env cannot be interrupted.
func (p *goroutineProcess) Kill() error {
	p.cancel()
	return p.conn.Close()
}

// Worker subprocess flags, parsed by the worker command of the binary.
const (
	FlagEnv       = "env"
	FlagIndex     = "index"
	FlagShm       = "shm"
	FlagShmSlots  = "shm-slots"
	FlagShmSize   = "shm-size"
	WorkerCommand = "worker"
)

// ExecLauncher runs each worker as a subprocess speaking gob frames over its
// stdin and stdout. The env is rebuilt in the child from its registered
// name, so only registered envs and portable work can be used.
type ExecLauncher struct {
	// Path of the binary; defaults to the running executable
	Path string
	// Args come before the worker flags; defaults to the worker command
	Args []string
	// Stderr receives the workers' logs; defaults to os.Stderr
	Stderr io.Writer
	// Env is appended to the parent's environment
	Env []string
}

func (l ExecLauncher) InProcess() bool { return false }

func (l ExecLauncher) Launch(ctx context.Context, spec WorkerSpec) (Process, error) {
	if spec.EnvName == "" {
		return nil, errors.New("subprocess workers need a registered env name")
	}
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	args := l.Args
	if args == nil {
		args = []string{WorkerCommand}
	}
	args = append(append([]string(nil), args...), WorkerArgs(spec)...)

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	// Our own pipes rather than StdinPipe/StdoutPipe, so that Wait does not
	// close the reader while the stream is still draining it.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, err
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("start worker %d: %w", spec.Index, err)
	}
	stdinR.Close()
	stdoutW.Close()

	return &execProcess{
		cmd:    cmd,
		conn:   messaging.NewStreamEndpoint(stdoutR, stdinW),
		stdout: stdoutR,
	}, nil
}

// WorkerArgs renders spec as worker command flags.
func WorkerArgs(spec WorkerSpec) []string {
	args := []string{
		"--" + FlagEnv, spec.EnvName,
		"--" + FlagIndex, strconv.Itoa(spec.Index),
	}
	if spec.Buffer != nil {
		args = append(args,
			"--"+FlagShm, spec.Buffer.Path(),
			"--"+FlagShmSlots, strconv.Itoa(spec.Buffer.Slots()),
			"--"+FlagShmSize, strconv.Itoa(spec.Buffer.Size()),
		)
	}
	return args
}

// WorkerConfig is what a subprocess worker learns from its flags.
type WorkerConfig struct {
	EnvName  string
	Index    int
	ShmPath  string
	ShmSlots int
	ShmSize  int
}

// RunWorker serves one subprocess worker over r and w, typically stdin and
// stdout. Setup failures are reported to the controller as a failed
// readiness reply.
func RunWorker(ctx context.Context, cfg WorkerConfig, r io.Reader, w io.WriteCloser, logger *log.Logger) error {
	factory, err := core.Lookup(cfg.EnvName)
	if err != nil {
		factory = failingFactory(err)
	}
	opts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithName(fmt.Sprintf("worker %d", cfg.Index)),
	}
	if cfg.ShmPath != "" {
		buf, err := shm.Open(cfg.ShmPath, cfg.ShmSlots, cfg.ShmSize)
		if err != nil {
			factory = failingFactory(err)
		} else {
			defer buf.Close()
			opts = append(opts, worker.WithBuffer(buf, cfg.Index))
		}
	}
	return worker.Serve(ctx, factory, messaging.NewWorkerStream(r, w), opts...)
}

func failingFactory(err error) core.Factory {
	return func() (core.Env, error) { return nil, err }
}

type execProcess struct {
	cmd    *exec.Cmd
	conn   messaging.Endpoint
	stdout *os.File
}

func (p *execProcess) Endpoint() messaging.Endpoint { return p.conn }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	p.stdout.Close()
	return err
}

func (p *execProcess) Kill() error {
	p.conn.Close()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Package execsession runs an interactive shell inside a container and turns
// submitted commands into (output, working directory) responses.
package execsession

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/sdd/internal/concurrency"
	"github.com/harunnryd/sdd/internal/engine"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/frame"
	"github.com/harunnryd/sdd/internal/logger"
	"github.com/harunnryd/sdd/internal/metrics"

	"github.com/google/shlex"
	"github.com/oklog/ulid/v2"
)

type State int32

const (
	Idle State = iota
	Probing
	Ready
	AwaitingCommand
	Executing
	ResponseReady
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Probing:
		return "probing"
	case Ready:
		return "ready"
	case AwaitingCommand:
		return "awaiting_command"
	case Executing:
		return "executing"
	case ResponseReady:
		return "response_ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultShell        = "/bin/sh"
	DefaultProbeCommand = "echo"
	DefaultPollTimeout  = 5 * time.Second
	DefaultQueueSize    = 16
)

type Options struct {
	Shell        string
	ProbeCommand string
	PollTimeout  time.Duration
	QueueSize    int
}

func (o *Options) applyDefaults() {
	if strings.TrimSpace(o.Shell) == "" {
		o.Shell = DefaultShell
	}
	if strings.TrimSpace(o.ProbeCommand) == "" {
		o.ProbeCommand = DefaultProbeCommand
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
}

type Response struct {
	Command string
	Output  string
	Pwd     string
	// Ended is set when the shell went away while producing this response.
	Ended bool
	Err   error
}

type Opener struct {
	eng  engine.Engine
	opts Options
}

func NewOpener(eng engine.Engine, opts Options) *Opener {
	opts.applyDefaults()
	return &Opener{eng: eng, opts: opts}
}

type Session struct {
	id          string
	containerID string
	conn        engine.Conn
	frames      *frame.Reader
	pollTimeout time.Duration

	state  atomic.Int32
	closed atomic.Bool

	commands  chan []byte
	responses chan Response
	closeCh   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	pwd string
}

// Open probes the container for a shell and attaches an interactive one.
// Nothing is allocated until the probe succeeds.
func (o *Opener) Open(ctx context.Context, ref string) (*Session, error) {
	log := logger.FromContext(ctx).With("component", "execsession", "container", ref)

	info, err := o.eng.InspectContainer(ctx, ref)
	if err != nil {
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
	}
	if !info.Running {
		return nil, sddErrors.NotFound(sddErrors.ResourceContainer, ref)
	}

	shell, err := shlex.Split(o.opts.Shell)
	if err != nil || len(shell) == 0 {
		return nil, sddErrors.InvalidInput(fmt.Sprintf("invalid shell %q", o.opts.Shell))
	}

	if err := o.probe(ctx, info.ID, ref, shell); err != nil {
		log.Debug("Shell probe failed", "error", err)
		return nil, err
	}

	conn, err := o.eng.AttachExec(ctx, info.ID, engine.ExecConfig{Cmd: shell})
	if err != nil {
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
	}

	id := ulid.Make().String()
	s := &Session{
		id:          id,
		containerID: info.ID,
		conn:        conn,
		frames:      frame.NewReader(conn),
		pollTimeout: o.opts.PollTimeout,
		commands:    make(chan []byte, o.opts.QueueSize),
		responses:   make(chan Response, o.opts.QueueSize),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.state.Store(int32(Ready))

	// Establish the starting directory before accepting commands. A shell
	// that never answers is torn down when ctx ends.
	release := context.AfterFunc(ctx, s.shutdown)
	initial := s.execute(nil)
	if !release() {
		s.shutdown()
		log.Debug("Exec open cancelled", "error", ctx.Err())
		return nil, sddErrors.Cancelled(ctx.Err())
	}
	if initial.Err != nil || initial.Ended {
		s.shutdown()
		if initial.Err != nil {
			return nil, initial.Err
		}
		return nil, sddErrors.TerminalNotFound(ref)
	}

	metrics.SessionOpened(metrics.KindExec)
	concurrency.SafeGo("execsession:"+id, s.run, func(err error) {
		log.Error("Exec session worker crashed", "error", err)
	})

	log.Info("Exec session opened", "session", id, "pwd", s.Pwd())
	return s, nil
}

func (o *Opener) probe(ctx context.Context, containerID, ref string, shell []string) error {
	cmd := append(append([]string{}, shell...), "-c", o.opts.ProbeCommand)
	res, err := o.eng.Exec(ctx, containerID, engine.ExecConfig{Cmd: cmd})
	if err != nil {
		if errors.Is(err, sddErrors.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
		}
		terminal := sddErrors.TerminalNotFound(ref)
		terminal.Err = err
		return terminal
	}
	if res.ExitCode != 0 {
		return sddErrors.TerminalNotFound(ref)
	}
	return nil
}

func (s *Session) ID() string          { return s.id }
func (s *Session) ContainerID() string { return s.containerID }

func (s *Session) State() State {
	if s.closed.Load() {
		return Closed
	}
	return State(s.state.Load())
}

// Pwd is the last working directory reported by the shell.
func (s *Session) Pwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pwd
}

func (s *Session) setPwd(pwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwd = pwd
}

// Submit queues cmd for execution. Commands run one at a time in order.
func (s *Session) Submit(cmd []byte) error {
	if s.closed.Load() {
		return sddErrors.Cancelled(errors.New("session closed"))
	}
	select {
	case s.commands <- cmd:
		return nil
	case <-s.closeCh:
		return sddErrors.Cancelled(errors.New("session closed"))
	}
}

// Responses yields one Response per submitted command and is closed when the
// session ends.
func (s *Session) Responses() <-chan Response {
	return s.responses
}

// Next waits up to timeout for the next response. ok is false on timeout or
// once the session has ended.
func (s *Session) Next(timeout time.Duration) (Response, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-s.responses:
		return resp, ok
	case <-timer.C:
		return Response{}, false
	}
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session and releases the connection. Safe to call more than
// once and from any goroutine.
func (s *Session) Close() {
	s.closed.Store(true)
	s.shutdown()
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		_ = s.conn.CloseWrite()
		_ = s.conn.Close()
		s.state.Store(int32(Closed))
	})
}

func (s *Session) run() {
	defer func() {
		s.closed.Store(true)
		s.shutdown()
		close(s.responses)
		close(s.done)
		metrics.SessionClosed(metrics.KindExec)
	}()

	for {
		s.state.Store(int32(AwaitingCommand))

		cmd, ok := s.await()
		if !ok {
			return
		}

		s.state.Store(int32(Executing))
		resp := s.execute(cmd)
		metrics.ExecCommand(resp.Err == nil && !resp.Ended)

		s.state.Store(int32(ResponseReady))
		select {
		case s.responses <- resp:
		case <-s.closeCh:
			return
		}

		if resp.Err != nil || resp.Ended {
			return
		}
	}
}

// await blocks for the next command, waking every poll interval to observe
// the closed flag.
func (s *Session) await() ([]byte, bool) {
	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	for {
		select {
		case cmd := <-s.commands:
			return cmd, true
		case <-s.closeCh:
			return nil, false
		case <-timer.C:
			if s.closed.Load() {
				return nil, false
			}
			timer.Reset(s.pollTimeout)
		}
	}
}

// execute writes cmd followed by a fresh sentinel and reads frames until the
// trailing sentinel shows up or the connection ends. Output may span any
// number of frames.
func (s *Session) execute(cmd []byte) Response {
	resp := Response{Command: string(cmd)}
	sentinel := newSentinel()

	if _, err := s.conn.Write(script(cmd, sentinel)); err != nil {
		resp.Err = s.connErr("write command", err)
		resp.Pwd = s.Pwd()
		return resp
	}

	var buf bytes.Buffer
	for {
		if output, pwd, ok := splitSentinel(buf.Bytes(), sentinel); ok {
			resp.Output = output
			resp.Pwd = pwd
			s.setPwd(pwd)
			return resp
		}

		f, err := s.frames.Next()
		if err != nil {
			// Sentinel never arrived: the whole payload is output and the
			// directory is the last one we saw.
			resp.Output = buf.String()
			resp.Pwd = s.Pwd()
			resp.Ended = true
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				resp.Err = s.connErr("read output", err)
			}
			return resp
		}
		if f.Stream == frame.Stdin {
			continue
		}
		buf.Write(f.Payload)
	}
}

func (s *Session) connErr(op string, err error) error {
	if s.closed.Load() {
		return sddErrors.Cancelled(err)
	}
	return sddErrors.EngineCallFailed(op, err)
}

func newSentinel() []byte {
	return []byte("__SDD_" + ulid.Make().String() + "__")
}

func script(cmd, sentinel []byte) []byte {
	var b bytes.Buffer
	cmd = bytes.TrimRight(cmd, "\r\n")
	if len(cmd) > 0 {
		b.Write(cmd)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "printf '\\n%%s\\n' '%s'; pwd; printf '%%s\\n' '%s'\n", sentinel, sentinel)
	return b.Bytes()
}

// splitSentinel finds "<output>\n<sentinel>\n<pwd>\n<sentinel>" in buf.
func splitSentinel(buf, sentinel []byte) (output string, pwd string, ok bool) {
	first := bytes.Index(buf, sentinel)
	if first < 0 {
		return "", "", false
	}
	rest := buf[first+len(sentinel):]
	second := bytes.Index(rest, sentinel)
	if second < 0 {
		return "", "", false
	}

	out := buf[:first]
	out = bytes.TrimSuffix(out, []byte("\n"))
	return string(out), strings.TrimSpace(string(rest[:second])), true
}

// DecodeCommand accepts either hex-encoded bytes or plain text.
func DecodeCommand(s string) []byte {
	if len(s) > 0 && len(s)%2 == 0 {
		if b, err := hex.DecodeString(s); err == nil {
			return b
		}
	}
	return []byte(s)
}

package enginetest

import (
	"bytes"
	"io"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/frame"
)

// markerLine matches the line an exec session appends after every command.
var markerLine = regexp.MustCompile(`^printf '\\n%s\\n' '([^']+)'; pwd; printf '%s\\n' '[^']+'$`)

// Shell is a tiny line-oriented shell speaking the multiplexed framing. It
// understands cd, echo, pwd and exit; anything else is "not found" on stderr.
type Shell struct {
	mu     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	in     bytes.Buffer
	cwd    string
	closed  bool
	writes  int
	markers []string
}

func NewShell(cwd string) *Shell {
	s := &Shell{cwd: cwd}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Markers returns the sentinels of every command seen, in order.
func (s *Shell) Markers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.markers...)
}

// Writes counts Write calls received.
func (s *Shell) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Shell) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(p)
}

func (s *Shell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.writes++
	s.in.Write(p)
	for {
		line, err := s.in.ReadString('\n')
		if err != nil {
			s.in.WriteString(line)
			break
		}
		s.handle(strings.TrimSuffix(line, "\n"))
		if s.closed {
			break
		}
	}
	s.cond.Broadcast()
	return len(p), nil
}

func (s *Shell) emit(stream frame.StreamType, text string) {
	s.out.Write(frame.Encode(stream, []byte(text)))
}

func (s *Shell) handle(line string) {
	if m := markerLine.FindStringSubmatch(line); m != nil {
		sentinel := m[1]
		s.markers = append(s.markers, sentinel)
		// split across frames so readers must reassemble
		half := len(sentinel) / 2
		s.emit(frame.Stdout, "\n"+sentinel[:half])
		s.emit(frame.Stdout, sentinel[half:]+"\n")
		s.emit(frame.Stdout, s.cwd+"\n")
		s.emit(frame.Stdout, sentinel+"\n")
		return
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "cd":
		target := "/root"
		if len(fields) > 1 {
			target = fields[1]
		}
		if !path.IsAbs(target) {
			target = path.Join(s.cwd, target)
		}
		s.cwd = target
	case "pwd":
		s.emit(frame.Stdout, s.cwd+"\n")
	case "echo":
		s.emit(frame.Stdout, strings.Join(fields[1:], " ")+"\n")
	case "exit":
		s.closed = true
	default:
		s.emit(frame.Stderr, "sh: "+fields[0]+": not found\n")
	}
}

func (s *Shell) CloseWrite() error { return s.Close() }

func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

var _ engine.Conn = (*Shell)(nil)

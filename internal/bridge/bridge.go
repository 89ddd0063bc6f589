// Package bridge turns a blocking text source into a session that a
// cooperative consumer can poll with a timeout.
package bridge

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/concurrency"
)

// Source yields text units until it returns io.EOF or another error. Close
// must unblock a pending Next and be safe to call more than once.
type Source interface {
	Next() (string, error)
	Close() error
}

type PollResult int

const (
	Data PollResult = iota
	Timeout
	End
)

func (r PollResult) String() string {
	switch r {
	case Data:
		return "data"
	case Timeout:
		return "timeout"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

const DefaultCapacity = 256

type Options struct {
	Name string
	// Capacity bounds the queue between worker and consumer.
	Capacity int
	// ErrorPrefix, when set, publishes a decode error as a final text unit
	// before end of stream.
	ErrorPrefix string
}

type Session struct {
	src  Source
	opts Options

	queue  chan string
	closed chan struct{}
	done   chan struct{}

	closeOnce  sync.Once
	sourceOnce sync.Once

	mu  sync.Mutex
	err error
}

// Open starts the single worker for src and returns its session.
func Open(src Source, opts Options) *Session {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Name == "" {
		opts.Name = "bridge"
	}

	s := &Session{
		src:    src,
		opts:   opts,
		queue:  make(chan string, opts.Capacity),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	concurrency.SafeGo(opts.Name, s.run, s.setErr)
	return s
}

func (s *Session) run() {
	defer func() {
		s.closeSource()
		close(s.queue)
		close(s.done)
	}()

	for {
		unit, err := s.src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || s.isClosed() {
				return
			}
			s.setErr(err)
			if s.opts.ErrorPrefix != "" {
				s.publish(s.opts.ErrorPrefix + err.Error())
			}
			return
		}
		if !s.publish(unit) {
			return
		}
	}
}

// publish blocks while the queue is full, giving up once the session closes.
func (s *Session) publish(unit string) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.queue <- unit:
		return true
	case <-s.closed:
		return false
	}
}

// Poll waits up to timeout for the next unit.
func (s *Session) Poll(timeout time.Duration) (string, PollResult) {
	if s.isClosed() {
		return "", End
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case unit, ok := <-s.queue:
		if !ok {
			return "", End
		}
		return unit, Data
	case <-s.closed:
		return "", End
	case <-timer.C:
		return "", Timeout
	}
}

// Close stops the worker and releases the source. Safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeSource()
	})
}

// Done is closed once the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) closeSource() {
	s.sourceOnce.Do(func() {
		_ = s.src.Close()
	})
}

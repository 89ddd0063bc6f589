package bridge

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	units  []string
	err    error
	pos    int
	served int32
	closes int32
}

func (s *sliceSource) Next() (string, error) {
	if s.pos < len(s.units) {
		atomic.AddInt32(&s.served, 1)
		s.pos++
		return s.units[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceSource) Close() error {
	atomic.AddInt32(&s.closes, 1)
	return nil
}

// blockingSource hands out units on demand and blocks otherwise until closed.
type blockingSource struct {
	units  chan string
	closed chan struct{}
	once   sync.Once
	nexts  int32
}

func newBlockingSource() *blockingSource {
	return &blockingSource{units: make(chan string), closed: make(chan struct{})}
}

func (b *blockingSource) Next() (string, error) {
	atomic.AddInt32(&b.nexts, 1)
	select {
	case u := <-b.units:
		return u, nil
	case <-b.closed:
		return "", errors.New("use of closed network connection")
	}
}

func (b *blockingSource) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func drain(t *testing.T, s *Session) []string {
	t.Helper()
	var got []string
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("session did not end")
		default:
		}
		unit, res := s.Poll(100 * time.Millisecond)
		switch res {
		case Data:
			got = append(got, unit)
		case End:
			return got
		}
	}
}

func TestSession_DeliversAllUnitsThenEnd(t *testing.T) {
	units := make([]string, 50)
	for i := range units {
		units[i] = fmt.Sprintf("line %d", i)
	}
	src := &sliceSource{units: units}

	s := Open(src, Options{Capacity: 4})
	got := drain(t, s)

	assert.Equal(t, units, got)
	_, res := s.Poll(10 * time.Millisecond)
	assert.Equal(t, End, res, "end is sticky")
	assert.NoError(t, s.Err())

	<-s.Done()
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.closes))
}

func TestSession_DecodeErrorPublishedThenEnd(t *testing.T) {
	src := &sliceSource{units: []string{"a"}, err: errors.New("bad frame")}

	s := Open(src, Options{ErrorPrefix: "Error streaming logs: "})
	got := drain(t, s)

	assert.Equal(t, []string{"a", "Error streaming logs: bad frame"}, got)
	assert.EqualError(t, s.Err(), "bad frame")
}

func TestSession_PollTimeoutKeepsSessionOpen(t *testing.T) {
	src := newBlockingSource()
	s := Open(src, Options{})
	defer s.Close()

	_, res := s.Poll(20 * time.Millisecond)
	assert.Equal(t, Timeout, res)

	go func() { src.units <- "late" }()
	unit, res := s.Poll(2 * time.Second)
	assert.Equal(t, Data, res)
	assert.Equal(t, "late", unit)
}

func TestSession_CloseUnblocksWorker(t *testing.T) {
	src := newBlockingSource()
	s := Open(src, Options{})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.nexts) > 0 }, time.Second, time.Millisecond)

	s.Close()
	s.Close()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("worker still running after Close")
	}

	_, res := s.Poll(10 * time.Millisecond)
	assert.Equal(t, End, res)
	assert.NoError(t, s.Err(), "errors after close are not reported")
}

func TestSession_BoundedQueueBlocksWorker(t *testing.T) {
	units := make([]string, 100)
	for i := range units {
		units[i] = "x"
	}
	src := &sliceSource{units: units}

	s := Open(src, Options{Capacity: 3})
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(s.queue), 3)
	assert.LessOrEqual(t, atomic.LoadInt32(&src.served), int32(5))
}

func TestLineSource_InvalidUTF8EndsStream(t *testing.T) {
	src := NewLineSource(strings.NewReader("ok\n\xff\xfe binary\nafter\n"), nil)

	s := Open(src, Options{ErrorPrefix: "Error streaming logs: "})
	got := drain(t, s)

	assert.Equal(t, []string{"ok", "Error streaming logs: invalid utf-8 in stream"}, got)
	assert.ErrorIs(t, s.Err(), ErrInvalidUTF8)
}

func TestLineSource(t *testing.T) {
	src := NewLineSource(strings.NewReader("one\r\ntwo\nthree"), nil)

	var got []string
	for {
		line, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.NoError(t, src.Close())
}

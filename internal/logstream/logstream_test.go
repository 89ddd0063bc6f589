package logstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/sdd/internal/bridge"
	"github.com/harunnryd/sdd/internal/engine"
	"github.com/harunnryd/sdd/internal/engine/enginetest"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/frame"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []string
	failN int
}

func (r *recordingSink) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failN > 0 && len(r.sent) >= r.failN {
		return errors.New("websocket: close sent")
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func multiplexed(lines ...string) []byte {
	var buf bytes.Buffer
	for i, l := range lines {
		stream := frame.Stdout
		if i%2 == 1 {
			stream = frame.Stderr
		}
		buf.Write(frame.Encode(stream, []byte(l+"\n")))
	}
	return buf.Bytes()
}

func newFake(tty bool) *enginetest.Fake {
	f := enginetest.New()
	f.Containers["web"] = engine.ContainerInfo{ID: "c0ffee", Name: "web", Running: true, TTY: tty}
	return f
}

func TestStream_RelaysAllLinesThenEnds(t *testing.T) {
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("line-%d", i))
	}

	f := newFake(false)
	var gotOpts engine.LogOptions
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		assert.Equal(t, "c0ffee", id)
		gotOpts = opts
		return io.NopCloser(bytes.NewReader(multiplexed(lines...))), nil
	}

	s := New(f, Options{PollTimeout: time.Second})
	tail := 10
	sess, err := s.Stream(context.Background(), "web", &tail)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.Relay(context.Background(), sess, sink, RelayOptions{SendEnd: true}))

	assert.Equal(t, append(lines, DefaultEndToken), sink.snapshot())
	assert.Equal(t, "10", gotOpts.Tail)
	assert.True(t, gotOpts.Follow)
	assert.True(t, gotOpts.Stdout && gotOpts.Stderr)
}

func TestStream_TTYReadsRaw(t *testing.T) {
	f := newFake(true)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		assert.Equal(t, "all", opts.Tail)
		return io.NopCloser(bytes.NewBufferString("a\r\nb\n")), nil
	}

	s := New(f, Options{})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.Relay(context.Background(), sess, sink, RelayOptions{}))
	assert.Equal(t, []string{"a", "b"}, sink.snapshot())
}

func TestStream_HeartbeatWhileIdle(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	f := newFake(false)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		return pr, nil
	}

	s := New(f, Options{PollTimeout: 10 * time.Millisecond})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	sink := &recordingSink{failN: 3}
	done := make(chan error, 1)
	go func() { done <- s.Relay(context.Background(), sess, sink, RelayOptions{}) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "a departed subscriber is swallowed")
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not return after sink failure")
	}

	assert.Equal(t, []string{DefaultHeartbeatToken, DefaultHeartbeatToken, DefaultHeartbeatToken}, sink.snapshot())

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("log worker still running after relay returned")
	}
}

func TestStream_DecodeErrorIsReported(t *testing.T) {
	data := multiplexed("ok")
	data = append(data, 9, 0, 0, 0, 0, 0, 0, 1, 'x')

	f := newFake(false)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	s := New(f, Options{})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.Relay(context.Background(), sess, sink, RelayOptions{}))

	got := sink.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0])
	assert.Contains(t, got[1], "Error streaming logs: ")
}

func TestStream_BinaryLineIsReported(t *testing.T) {
	f := newFake(true)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString("ok\n\xff\xfe\nafter\n")), nil
	}

	s := New(f, Options{})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	sink := &recordingSink{}
	require.NoError(t, s.Relay(context.Background(), sess, sink, RelayOptions{}))

	got := sink.snapshot()
	require.Len(t, got, 2, "nothing after the bad line is relayed")
	assert.Equal(t, "ok", got[0])
	assert.Equal(t, "Error streaming logs: "+bridge.ErrInvalidUTF8.Error(), got[1])
	assert.ErrorIs(t, sess.Err(), bridge.ErrInvalidUTF8)
}

func TestStream_UnknownContainer(t *testing.T) {
	f := enginetest.New()
	called := false
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		called = true
		return nil, nil
	}

	s := New(f, Options{})
	sess, err := s.Stream(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, errors.Is(err, sddErrors.ErrNotFound))
	assert.False(t, called, "no log request for an unresolved container")

	e, ok := sddErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, sddErrors.ResourceContainer, e.Resource)
	assert.Equal(t, "ghost", e.ID)
}

func TestStream_CloseStopsWorker(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	f := newFake(false)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		return pr, nil
	}

	s := New(f, Options{})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	sess.Close()
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after close")
	}

	_, res := sess.Poll(10 * time.Millisecond)
	assert.Equal(t, bridge.End, res)
}

func TestRelay_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	f := newFake(false)
	f.LogsFunc = func(ctx context.Context, id string, opts engine.LogOptions) (io.ReadCloser, error) {
		return pr, nil
	}

	s := New(f, Options{PollTimeout: 10 * time.Millisecond})
	sess, err := s.Stream(context.Background(), "web", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Relay(ctx, sess, &recordingSink{}, RelayOptions{}))

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after relay cancellation")
	}
}

func TestTailArg(t *testing.T) {
	n := 0
	neg := -5
	assert.Equal(t, "all", tailArg(nil))
	assert.Equal(t, "0", tailArg(&n))
	assert.Equal(t, "all", tailArg(&neg))
}

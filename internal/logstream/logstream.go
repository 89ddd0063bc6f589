// Package logstream follows a container's log output and relays it to a
// subscriber with heartbeats while the container is quiet.
package logstream

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/sdd/internal/bridge"
	"github.com/harunnryd/sdd/internal/engine"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/frame"
	"github.com/harunnryd/sdd/internal/logger"
	"github.com/harunnryd/sdd/internal/metrics"
)

const (
	DefaultHeartbeatToken = "SimpleDockerDashboard_Ping"
	DefaultEndToken       = "SimpleDockerDashboard_EOL"
	DefaultPollTimeout    = time.Second

	errorPrefix = "Error streaming logs: "
)

type Options struct {
	QueueCapacity  int
	PollTimeout    time.Duration
	HeartbeatToken string
	EndToken       string
}

func (o *Options) applyDefaults() {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.HeartbeatToken == "" {
		o.HeartbeatToken = DefaultHeartbeatToken
	}
	if o.EndToken == "" {
		o.EndToken = DefaultEndToken
	}
}

// Sink receives relayed text. An error means the subscriber is gone.
type Sink interface {
	Send(text string) error
}

type SinkFunc func(text string) error

func (f SinkFunc) Send(text string) error { return f(text) }

type Streamer struct {
	eng  engine.Engine
	opts Options
}

func New(eng engine.Engine, opts Options) *Streamer {
	opts.applyDefaults()
	return &Streamer{eng: eng, opts: opts}
}

// Stream resolves ref and starts following its logs. A nil tail means the
// whole history.
func (s *Streamer) Stream(ctx context.Context, ref string, tail *int) (*bridge.Session, error) {
	info, err := s.eng.InspectContainer(ctx, ref)
	if err != nil {
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
	}

	// The follow request outlives the caller's context; it ends when the
	// session closes the source.
	followCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rc, err := s.eng.ContainerLogs(followCtx, info.ID, engine.LogOptions{
		Follow: true,
		Tail:   tailArg(tail),
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		cancel()
		return nil, sddErrors.FromEngine(err, sddErrors.ResourceContainer, ref)
	}

	closer := &cancelCloser{rc: rc, cancel: cancel}

	var body io.Reader = rc
	if !info.TTY {
		body = frame.NewPayloadReader(rc)
	}

	logger.FromContext(ctx).Debug("Log stream opened", "component", "logstream", "container", info.ID, "tty", info.TTY)

	return bridge.Open(bridge.NewLineSource(body, closer), bridge.Options{
		Name:        "logstream:" + info.ID,
		Capacity:    s.opts.QueueCapacity,
		ErrorPrefix: errorPrefix,
	}), nil
}

func tailArg(tail *int) string {
	if tail == nil || *tail < 0 {
		return "all"
	}
	return strconv.Itoa(*tail)
}

type cancelCloser struct {
	rc     io.Closer
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (c *cancelCloser) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.err = c.rc.Close()
	})
	return c.err
}

// RelayOptions tunes a single relay.
type RelayOptions struct {
	// SendEnd writes the end token before returning on end of stream.
	SendEnd bool
}

// Relay forwards units from sess to sink until the stream ends, the sink
// fails or ctx is done. Idle polls produce a heartbeat. The session is always
// closed on return; a departed subscriber is not an error.
func (s *Streamer) Relay(ctx context.Context, sess *bridge.Session, sink Sink, ro RelayOptions) error {
	defer sess.Close()

	metrics.SessionOpened(metrics.KindLogs)
	defer metrics.SessionClosed(metrics.KindLogs)

	log := logger.FromContext(ctx).With("component", "logstream")

	for {
		if ctx.Err() != nil {
			log.Debug("Log relay cancelled")
			return nil
		}

		unit, res := sess.Poll(s.opts.PollTimeout)

		var err error
		switch res {
		case bridge.Data:
			err = sink.Send(unit)
		case bridge.Timeout:
			metrics.Heartbeat()
			err = sink.Send(s.opts.HeartbeatToken)
		case bridge.End:
			if ro.SendEnd {
				_ = sink.Send(s.opts.EndToken)
			}
			log.Debug("Log stream ended")
			return nil
		}

		if err != nil {
			log.Debug("Log subscriber gone", "error", err)
			return nil
		}
	}
}

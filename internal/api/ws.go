package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/harunnryd/sdd/internal/auth"
	"github.com/harunnryd/sdd/internal/concurrency"
	sddErrors "github.com/harunnryd/sdd/internal/errors"
	"github.com/harunnryd/sdd/internal/execsession"
	"github.com/harunnryd/sdd/internal/logger"
	"github.com/harunnryd/sdd/internal/logstream"

	"github.com/gorilla/websocket"
)

type execRequest struct {
	Command string `json:"command"`
}

type execReply struct {
	Command string `json:"command"`
	Output  string `json:"output"`
	Pwd     string `json:"pwd"`
}

// handleLogs resolves the container before upgrading so a bad id is a plain
// HTTP error.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id, err := requiredParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tail, err := tailParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := logger.WithContainerID(r.Context(), id)

	sess, err := s.deps.Logs.Stream(ctx, id, tail)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	concurrency.SafeGo("logs:reader", func() { drainClient(conn, cancel) }, nil)

	sink := logstream.SinkFunc(func(text string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, []byte(text))
	})
	_ = s.deps.Logs.Relay(ctx, sess, sink, logstream.RelayOptions{SendEnd: boolParam(r, "eol")})
	closeSocket(conn, websocket.CloseNormalClosure, "")
}

// drainClient reads until the peer goes away. Log sockets carry no client
// messages; reading is how a disconnect is noticed.
func drainClient(conn *websocket.Conn, onClose func()) {
	defer onClose()
	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id, err := requiredParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx := logger.WithContainerID(r.Context(), id)

	sess, err := s.deps.Exec.Open(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sess.Close()
	ctx = logger.WithSessionID(ctx, sess.ID())
	log := logger.FromContext(ctx).With("component", "api")
	if subject, ok := auth.SubjectFrom(ctx); ok {
		log = log.With("subject", subject.ID)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	log.Info("Exec session attached")

	concurrency.SafeGo("exec:reader", func() { s.readCommands(conn, sess) }, func(err error) {
		log.Error("Exec reader crashed", "error", err)
		sess.Close()
	})

	for {
		timer := time.NewTimer(s.opts.ExecPollTimeout)
		select {
		case resp, ok := <-sess.Responses():
			timer.Stop()
			if !ok {
				closeSocket(conn, websocket.CloseNormalClosure, "session ended")
				return
			}
			if resp.Err != nil {
				if !errors.Is(resp.Err, sddErrors.ErrCancelled) {
					log.Warn("Exec session failed", "error", resp.Err)
					closeSocket(conn, websocket.CloseInternalServerErr, "engine error")
				}
				return
			}
			if err := writeSocketJSON(conn, execReply{Command: resp.Command, Output: resp.Output, Pwd: resp.Pwd}); err != nil {
				return
			}
			if resp.Ended {
				closeSocket(conn, websocket.CloseNormalClosure, "shell exited")
				return
			}
		case <-timer.C:
			// keep-alive
			if err := writeSocketJSON(conn, struct{}{}); err != nil {
				return
			}
		}
	}
}

// readCommands is the only producer of session input. A client disconnect
// closes the session, which in turn ends the writer loop.
func (s *Server) readCommands(conn *websocket.Conn, sess *execsession.Session) {
	defer sess.Close()
	conn.SetReadLimit(maxClientMessage)
	for {
		var req execRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if err := sess.Submit(execsession.DecodeCommand(req.Command)); err != nil {
			return
		}
	}
}

func writeSocketJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/warden/internal/registry"
)

const (
	consolePollInterval = 250 * time.Millisecond
	consoleWriteWait    = 10 * time.Second
	consolePingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// consoleMessage is the inbound frame format: one console command per
// message.
type consoleMessage struct {
	Command string `json:"command"`
}

// handleConsole upgrades to a WebSocket and streams console output as
// text frames while accepting {"command": "..."} frames. The session
// ends when the instance stops and its buffer is drained, or when the
// client disconnects.
func (r *Router) handleConsole(c *gin.Context) {
	name, ok := r.paramName(c)
	if !ok {
		return
	}
	if !r.known(name) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown instance"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}

	s := &consoleSession{
		conn:   conn,
		reg:    r.reg,
		name:   name,
		logger: r.logger,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	s.writeLoop()
}

type consoleSession struct {
	conn   *websocket.Conn
	reg    *registry.Registry
	name   string
	logger *slog.Logger

	done     chan struct{}
	doneOnce sync.Once
}

func (s *consoleSession) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *consoleSession) readLoop() {
	defer s.finish()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg consoleMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Command == "" {
			continue
		}
		if _, err := s.reg.SendCommand(s.name, msg.Command); err != nil {
			s.logger.Debug("console command not delivered", "instance", s.name, "error", err)
		}
	}
}

func (s *consoleSession) writeLoop() {
	poll := time.NewTicker(consolePollInterval)
	ping := time.NewTicker(consolePingPeriod)
	defer func() {
		poll.Stop()
		ping.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case <-ping.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			lines := s.reg.ReadOutput(s.name)
			if len(lines) > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(strings.Join(lines, "\n"))); err != nil {
					return
				}
				continue
			}
			if !s.reg.IsRunning(s.name) {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "instance stopped")
				_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(consoleWriteWait))
				return
			}
		}
	}
}

package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/eleven-am/researchflow/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the dashboard is served from its own origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleFlowSocket pushes the flow detail on connect and again after every
// change. The socket closes once the flow reaches a terminal status or is
// deleted. Snapshots not newer than the last one sent are skipped.
func (s *Server) handleFlowSocket(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("flow_id")

	flow, events, unsubscribe, err := s.flows.Subscribe(r.Context(), flowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "flow_id", flowID, "error", err)
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.WebSocketOpened()
		defer s.metrics.WebSocketClosed()
	}
	logger := s.logger.With("flow_id", flowID, "remote_addr", r.RemoteAddr)
	logger.Debug("push channel opened")

	gone := s.readPump(conn)

	lastSent := flow.UpdatedAt
	if err := s.sendFlow(conn, flow); err != nil {
		logger.Debug("push channel write failed", "error", err)
		return
	}
	if flow.Status.IsTerminal() {
		s.closeSocket(conn, "flow finished")
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Debug("push channel closed by client")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok || ev.Type == domain.EventFlowDeleted {
				s.closeSocket(conn, "flow deleted")
				return
			}
			if ev.Flow == nil || !ev.Flow.UpdatedAt.After(lastSent) {
				continue
			}
			if err := s.sendFlow(conn, ev.Flow); err != nil {
				logger.Debug("push channel write failed", "error", err)
				return
			}
			lastSent = ev.Flow.UpdatedAt
			if ev.Flow.Status.IsTerminal() {
				s.closeSocket(conn, "flow finished")
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
// The returned channel closes when the client goes away.
func (s *Server) readPump(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	deadline := 2 * s.pingInterval

	conn.SetReadLimit(maxClientFrame)
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.logger.Debug("push channel read error", "error", err)
				}
				return
			}
		}
	}()
	return gone
}

func (s *Server) sendFlow(conn *websocket.Conn, flow *domain.Flow) error {
	data, err := json.Marshal(flow)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.WebSocketFrameSent()
	}
	return nil
}

func (s *Server) closeSocket(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

package server

import (
	"net/http"
	"time"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/reconcile"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser UIs are served from other origins; the token check below is the gate.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents implements GET /reconciler/sessions/{paymentId}/events. The first message is
// the current snapshot; every session event follows in order. The socket stays open past a
// terminal state and closes once the session is disposed.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("payment_id", sess.PaymentID()), zap.Error(err))
		return
	}

	send := make(chan eventView, sendBuffer)
	unsubscribe := sess.Watch(func(ev reconcile.Event) {
		select {
		case send <- viewOf(ev):
		default:
			s.logger.Warn("websocket client too slow, dropping event",
				zap.String("payment_id", ev.PaymentID),
				zap.String("kind", ev.Kind.String()))
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go s.readPump(conn, closed)
	s.writePump(conn, sess, send, closed)
}

// readPump discards client messages and notices when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sess *reconcile.Session, send <-chan eventView, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case v := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-sess.Closed():
			s.flush(conn, send)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is already queued.
func (s *Server) flush(conn *websocket.Conn, send <-chan eventView) {
	for {
		select {
		case v := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				return
			}
		default:
			return
		}
	}
}

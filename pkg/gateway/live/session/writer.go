package session

import (
	"time"

	"github.com/gorilla/websocket"
)

// wsConn is the slice of *websocket.Conn the session uses, kept narrow so
// tests can swap in a fake connection.
type wsConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type outboundFrame struct {
	payload []byte
}

// writeLoop is the single writer for the socket. All server frames funnel
// through the outbound channel so websocket writes never interleave.
func (s *LiveSession) writeLoop() error {
	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = s.ws.Close()
			return nil
		case <-pingTicker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.cancel()
				return err
			}
		case frame := <-s.outbound:
			if err := s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.cancel()
				return err
			}
			if err := s.ws.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
				s.cancel()
				return err
			}
		}
	}
}

package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	outboundQueueSize = 256
	pingInterval       = 30 * time.Second
	pongWait           = pingInterval*2 + 5*time.Second
	writeWait          = 10 * time.Second
)

// WebsocketSink adapts a *websocket.Conn into a Sink with a bounded
// outbound queue and a dedicated writer goroutine, grounded on the
// teacher's gauth-demo-app websocket handler (per-connection goroutine,
// ping/pong heartbeat, write-side mutex).
type WebsocketSink struct {
	conn   *websocket.Conn
	queue  chan Event
	log    *logrus.Logger
	closed chan struct{}
	once   sync.Once
}

// NewWebsocketSink starts the writer and heartbeat goroutines for conn and
// returns the Sink handle. Callers must call Close when the subscription
// ends.
func NewWebsocketSink(conn *websocket.Conn, log *logrus.Logger) *WebsocketSink {
	s := &WebsocketSink{
		conn:   conn,
		queue:  make(chan Event, outboundQueueSize),
		log:    log,
		closed: make(chan struct{}),
	}
	go s.writeLoop()
	go s.readPump()
	return s
}

// Send implements Sink with a non-blocking enqueue; on overflow it drops
// the oldest queued event and enqueues an overflow notice instead.
func (s *WebsocketSink) Send(ev Event) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.queue <- ev:
		return true
	default:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- Event{Type: EventOverflow, URI: ev.URI}:
		default:
		}
		return true
	}
}

// Closed implements Sink.
func (s *WebsocketSink) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Close tears down the writer/reader goroutines and the connection.
func (s *WebsocketSink) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *WebsocketSink) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.closed:
			return
		case ev := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				if s.log != nil {
					s.log.WithError(err).Debug("websocket sink write failed")
				}
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames (pong handling, connection-close
// detection); the protocol has no client->server push messages.
func (s *WebsocketSink) readPump() {
	defer s.Close()
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

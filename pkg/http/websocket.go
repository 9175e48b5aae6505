package http

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"siprec-bridge/pkg/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agent consoles connect from arbitrary origins, mirroring the open
	// CORS policy of the query interface.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	writeTimeout  = 5 * time.Second
	sendQueueSize = 32
)

var (
	errBackpressure   = errors.New("observer send queue full")
	errObserverClosed = errors.New("observer closed")
)

// wsObserver adapts one websocket connection to the broker's Observer
// contract. Events are queued to a write pump so broker delivery never
// blocks on the network; a full queue counts as a failed delivery and gets
// the observer dropped.
type wsObserver struct {
	conn    *websocket.Conn
	send    chan notify.Event
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

func newWSObserver(conn *websocket.Conn) *wsObserver {
	return &wsObserver{
		conn: conn,
		send: make(chan notify.Event, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (o *wsObserver) Send(evt notify.Event) error {
	select {
	case <-o.done:
		return errObserverClosed
	case o.send <- evt:
		return nil
	default:
		return errBackpressure
	}
}

func (o *wsObserver) close() {
	o.once.Do(func() {
		close(o.done)
		o.conn.Close()
	})
}

func (o *wsObserver) writeEvent(evt notify.Event) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteJSON(evt)
}

func (o *wsObserver) writeText(payload string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return o.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// handleAgentSocket upgrades the connection, replays the agent's current
// sessions as initial_state, and then streams call updates until the peer
// disconnects or a delivery fails.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	agentDNIS := r.PathValue("agentDNIS")
	logger := s.logger.WithField("agent_dnis", agentDNIS)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	obs := newWSObserver(conn)
	snapshot := s.broker.Subscribe(agentDNIS, obs)
	logger.Info("Agent console connected")

	if err := obs.writeEvent(notify.Event{Event: notify.EventInitialState, Data: snapshot}); err != nil {
		logger.WithError(err).Warn("Failed to send initial state")
		s.broker.Unsubscribe(agentDNIS, obs)
		obs.close()
		return
	}

	// Write pump: drains the observer queue onto the wire.
	go func() {
		for {
			select {
			case <-obs.done:
				return
			case evt := <-obs.send:
				if err := obs.writeEvent(evt); err != nil {
					logger.WithError(err).Debug("WebSocket write failed")
					s.broker.Unsubscribe(agentDNIS, obs)
					obs.close()
					return
				}
			}
		}
	}()

	// Read loop: liveness pings and disconnect detection. Anything other
	// than "ping" is ignored.
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(payload) == "ping" {
			if err := obs.writeText("pong"); err != nil {
				break
			}
		}
	}

	s.broker.Unsubscribe(agentDNIS, obs)
	obs.close()
	logger.Info("Agent console disconnected")
}

package eventhub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsWriteQueueDepth sizes the per-connection writer's buffer to 30
// frames (3s at 10Hz) before dropping.
const wsWriteQueueDepth = 30

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is the JSON envelope sent to WebSocket clients.
type wireEvent struct {
	Topic     string `json:"topic"`
	SourceID  string `json:"sourceId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	At        int64  `json:"at"`
	Data      any    `json:"data"`
}

// wsClient owns one connection's dedicated writer goroutine, so a slow
// reader can never block the hub's dispatch loop.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	queue   chan Event
	done    chan struct{}

	sourceID  string
	sessionID string // empty = subscribe to every session's events on sourceID
	topics    map[Topic]struct{}
}

func (c *wsClient) Publish(ev Event) {
	if ev.SourceID != "" && c.sourceID != "" && ev.SourceID != c.sourceID {
		return
	}
	if c.sessionID != "" && ev.SessionID != "" && ev.SessionID != c.sessionID {
		return
	}
	if len(c.topics) > 0 {
		if _, ok := c.topics[ev.Topic]; !ok {
			return
		}
	}
	select {
	case c.queue <- ev:
	default: // drop: this client is too slow for this event
	}
}

func (c *wsClient) runWriter() {
	defer close(c.done)
	for ev := range c.queue {
		msg := wireEvent{
			Topic:     string(ev.Topic),
			SourceID:  ev.SourceID,
			SessionID: ev.SessionID,
			At:        ev.At.UnixMilli(),
			Data:      ev.Payload,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("eventhub: marshal event for %s: %v", ev.Topic, err)
			continue
		}
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err = c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// WSHub upgrades HTTP connections to WebSocket and registers each as a
// hub sink, scoped to a source/session and an optional topic filter.
type WSHub struct {
	hub *Hub
}

// NewWSHub wraps a Hub with an HTTP handler factory.
func NewWSHub(hub *Hub) *WSHub {
	return &WSHub{hub: hub}
}

// Handler returns an http.HandlerFunc that upgrades the connection and
// subscribes it to events for sourceID (all sessions if sessionID is
// empty), filtered to topics (all topics if empty).
func (h *WSHub) Handler(sourceIDFromRequest func(r *http.Request) (sourceID, sessionID string), topics ...Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sourceID, sessionID := sourceIDFromRequest(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("eventhub: upgrade failed: %v", err)
			return
		}

		topicSet := make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			topicSet[t] = struct{}{}
		}

		client := &wsClient{
			conn:      conn,
			queue:     make(chan Event, wsWriteQueueDepth),
			done:      make(chan struct{}),
			sourceID:  sourceID,
			sessionID: sessionID,
			topics:    topicSet,
		}

		h.hub.Subscribe(client)
		go client.runWriter()

		// Drain reads to detect client-initiated close; this sink never
		// accepts control messages from the client.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.hub.Unsubscribe(client)
		close(client.queue)
		<-client.done
		conn.Close()
	}
}

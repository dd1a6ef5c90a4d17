package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hamlet/api/log"
	"hamlet/api/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

const (
	MsgSnapshot = "snapshot"
	MsgSpawn    = "spawn"
)

type Message struct {
	Type   string             `json:"type"`
	Agents []model.SpawnEvent `json:"agents"`
}

// SnapshotFunc returns the agents already spawned, sent to each new subscriber first.
type SnapshotFunc func() []model.SpawnEvent

// Hub fans spawn events out to websocket subscribers. A subscriber whose buffer is full misses
// the message rather than blocking the sender.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Message
	snapshot    SnapshotFunc
	upgrader    websocket.Upgrader
}

func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		subscribers: make(map[string]chan Message),
		snapshot:    snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Hub) register(id string) chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Message, sendBuffer)
	h.subscribers[id] = ch
	return ch
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PublishSpawn is wired as a spawn gate sink.
func (h *Hub) PublishSpawn(ev model.SpawnEvent) {
	h.Broadcast(Message{Type: MsgSpawn, Agents: []model.SpawnEvent{ev}})
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// ServeAgents upgrades the request and streams spawn events until the peer goes away.
func (h *Hub) ServeAgents(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade: %v", err)
		return
	}
	id := uuid.NewString()
	send := h.register(id)

	var initial []model.SpawnEvent
	if h.snapshot != nil {
		initial = h.snapshot()
	}
	send <- Message{Type: MsgSnapshot, Agents: initial}

	log.WithField("subscriber", id).Info("agent stream connected")
	go h.writePump(conn, send)
	h.readPump(conn, id)
}

// readPump only services control frames; subscribers do not send commands.
func (h *Hub) readPump(conn *websocket.Conn, id string) {
	defer func() {
		h.unregister(id)
		_ = conn.Close()
		log.WithField("subscriber", id).Info("agent stream disconnected")
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warnf("ws read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, send <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugf("ws write: %v", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

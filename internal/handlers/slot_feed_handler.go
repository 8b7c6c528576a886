package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	feedWriteWait  = 10 * time.Second
	feedBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router
	},
}

// SlotStatusMessage is pushed to feed clients when a slot's cached status changes
type SlotStatusMessage struct {
	Type      string            `json:"type"`
	SlotID    string            `json:"slot_id"`
	Number    string            `json:"number"`
	Status    models.SlotStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SlotFeedHub fans slot status changes out to websocket clients
type SlotFeedHub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger
}

// NewSlotFeedHub creates a new hub; call Run to start it
func NewSlotFeedHub(logger *logrus.Logger) *SlotFeedHub {
	return &SlotFeedHub{
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, feedBufferSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *SlotFeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("clients", total).Debug("Slot feed client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.WithField("clients", total).Debug("Slot feed client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(feedWriteWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.WithError(err).Debug("Dropping slot feed client")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *SlotFeedHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// SlotStatusChanged queues a status change for broadcast. It never blocks the
// caller; a full queue drops the message.
func (h *SlotFeedHub) SlotStatusChanged(slot models.Slot) {
	message, err := json.Marshal(SlotStatusMessage{
		Type:      "slot.status",
		SlotID:    slot.ID.String(),
		Number:    slot.Number,
		Status:    slot.Status,
		UpdatedAt: slot.UpdatedAt,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal slot status")
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("slot_id", slot.ID).Warn("Slot feed queue is full, dropping message")
	}
}

// ServeWS handles GET /api/v1/slots/feed
func (h *SlotFeedHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade slot feed connection")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Reads only detect disconnects
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.WithError(err).Debug("Slot feed read error")
				}
				return
			}
		}
	}()
}

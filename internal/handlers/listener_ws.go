package handlers

import (
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"echomind/internal/models"
	"echomind/internal/services"
)

// ListenerHandler accepts WebSocket connections from upstream audio
// listeners and feeds their analysis events and late recognition results
// into the batch accumulator.
type ListenerHandler struct {
	accumulator *services.BatchAccumulator
}

// NewListenerHandler creates a new listener handler
func NewListenerHandler(accumulator *services.BatchAccumulator) *ListenerHandler {
	return &ListenerHandler{accumulator: accumulator}
}

// Handle handles one listener connection until it closes.
func (h *ListenerHandler) Handle(c *websocket.Conn) {
	connID := uuid.New().String()
	log.Printf("🎤 [LISTENER] connected conn=%s", connID)
	defer log.Printf("🎤 [LISTENER] disconnected conn=%s", connID)

	for {
		var msg models.ListenerMessage
		if err := c.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "analysis_event":
			if msg.Event == nil {
				h.writeAck(c, models.ListenerAck{Type: "error", Error: "missing event"})
				continue
			}
			batchID := h.accumulator.AddEvent(*msg.Event)
			h.writeAck(c, models.ListenerAck{Type: "ack", BatchID: batchID})

		case "correlated_result":
			if msg.Result == nil {
				h.writeAck(c, models.ListenerAck{Type: "error", Error: "missing result"})
				continue
			}
			h.accumulator.AddCorrelatedResult(*msg.Result)
			h.writeAck(c, models.ListenerAck{Type: "ack"})

		default:
			h.writeAck(c, models.ListenerAck{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *ListenerHandler) writeAck(c *websocket.Conn, ack models.ListenerAck) {
	if err := c.WriteJSON(ack); err != nil {
		log.Printf("⚠️  [LISTENER] failed to write ack: %v", err)
	}
}

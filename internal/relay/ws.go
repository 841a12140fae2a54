package relay

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/subwatch/subwatch/internal/notification"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay carries no credentials and events are scoped by channel
	// membership, so cross-origin browser clients are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientCommand is a request sent by a connected client. The only action
// is create_room, declaring interest in a subscription's events.
type clientCommand struct {
	Action         string `json:"action"`
	SubscriptionID string `json:"subscriptionId"`
}

// pushFrame is the wire shape of an event pushed to a client
type pushFrame struct {
	Event string             `json:"event"`
	Data  notification.Event `json:"data"`
}

const actionCreateRoom = "create_room"

// Handler upgrades the connection to a WebSocket and serves the
// create_room / notification_received protocol until the client
// disconnects.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	listener := h.Join()
	defer func() {
		h.Leave(listener.ID)
		conn.Close()
	}()

	// Write pump: one goroutine owns writes to the connection. Closing the
	// connection when the event channel closes unblocks the read loop, so
	// hub shutdown tears connections down instead of stranding readers.
	go func() {
		defer conn.Close()
		for event := range listener.Events {
			frame := pushFrame{
				Event: "notification_received",
				Data:  event,
			}
			if err := conn.WriteJSON(frame); err != nil {
				h.logger.Debug().
					Err(err).
					Str("listener_id", listener.ID).
					Msg("WebSocket write error")
				return
			}
		}
	}()

	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			h.logger.Debug().
				Err(err).
				Str("listener_id", listener.ID).
				Msg("WebSocket closed")
			return
		}

		if cmd.Action == actionCreateRoom && cmd.SubscriptionID != "" {
			if err := h.AddChannel(listener.ID, cmd.SubscriptionID); err != nil {
				return
			}
		}
	}
}

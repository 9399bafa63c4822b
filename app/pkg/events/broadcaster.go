package events

import (
	"encoding/json"
	"log/slog"

	safews "github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/safe-ws"

	"github.com/gorilla/websocket"
)

// Broadcaster writes every event as a JSON text message to all its websocket consumers.
type Broadcaster struct {
	Conns []*safews.SafeConn
}

func (b *Broadcaster) Sink(ev Event) {
	if len(b.Conns) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("error marshalling event, impossible sending to websocket", "error", err)
		return
	}

	for idx, conn := range b.Conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Error("error sending event to websocket", "conn", idx, "error", err)
		}
	}
}

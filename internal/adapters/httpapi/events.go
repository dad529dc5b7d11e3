package httpapi

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// streamEvents upgrades to a websocket and forwards every bus event as JSON
// until the client goes away or the server shuts down.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("accept event stream")
		return
	}
	defer conn.CloseNow()

	sub := h.bus.Subscribe()
	defer sub.Close()

	// Reads only surface the client's close frame.
	ctx := conn.CloseRead(r.Context())

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if r.Context().Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		if err := wsjson.Write(ctx, conn, NewEventMessage(ev)); err != nil {
			if !errors.Is(err, ctx.Err()) {
				h.logger.Debug().Err(err).Msg("write event")
			}
			return
		}
	}
}

package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// httpEventsWebSocket streams engine events (open/extend/close/suppressed,
// capture lifecycle) to the client as JSON text messages.
func (s *Server) httpEventsWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("Events websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := s.Engine.AddEventWatcher()
	defer s.Engine.RemoveEventWatcher(events)

	// Read from the websocket on a separate thread, so the main loop can
	// notice the client closing without blocking event delivery.
	clientClosed := make(chan bool)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(clientClosed)
	}()

	for {
		select {
		case <-s.ShutdownStarted:
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-clientClosed:
			return
		case ev := <-events:
			if err := conn.WriteJSON(&ev); err != nil {
				s.Log.Infof("Events websocket write failed: %v", err)
				return
			}
		}
	}
}

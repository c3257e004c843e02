package main

import (
	"net/http"

	"healthgear/internal/websocket"
)

var wsHub = websocket.NewHub()

func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Serve(wsHub, w, r)
}

// broadcastChange notifies connected clients that a record changed so open
// dashboards and lists can refresh.
func broadcastChange(recordType string, id interface{}, action string) {
	wsHub.BroadcastChange(recordType, action, id)
}

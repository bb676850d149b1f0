package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/gateway/apierror"
	"github.com/studyloop/viva/pkg/gateway/live/protocol"
	"github.com/studyloop/viva/pkg/gateway/mw"
)

func coreErrorFrom(err error, reqID string) (*core.Error, int) {
	return apierror.FromError(err, reqID)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeErrorJSON(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := coreErrorFrom(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeWSError sends an error envelope over an already-upgraded websocket
// and closes it with a policy-violation close frame.
func writeWSError(conn *websocket.Conn, message string, closeCode int) {
	_ = conn.WriteJSON(protocol.ServerErrorEnvelope{Error: message})
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, message), deadline)
	_ = conn.Close()
}

func requestIDFromContext(r *http.Request) string {
	reqID, _ := mw.RequestIDFrom(r.Context())
	return reqID
}

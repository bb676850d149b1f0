package handlers

import (
	"net/http"

	"github.com/studyloop/viva/pkg/core"
	"github.com/studyloop/viva/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:      core.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	}, http.StatusNotFound)
}

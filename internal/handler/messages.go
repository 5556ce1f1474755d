package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/supersky/supersky/internal/middleware"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/pkg/logger"
)

// MessageHandler exposes the protocol router over HTTP.
type MessageHandler struct {
	router protocol.Dispatcher
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(router protocol.Dispatcher, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		router: router,
		logger: log,
	}
}

// Post handles POST /api/v1/messages. The response is written once the
// router resolves it; unrecognized request types get 204 No Content.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	future, ok := h.router.Dispatch(r.Context(), req)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp, err := future.Await(r.Context())
	if err != nil {
		h.logger.Warn("client went away before response",
			zap.String("type", string(req.Type)),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

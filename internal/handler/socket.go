package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/supersky/supersky/internal/middleware"
	"github.com/supersky/supersky/internal/protocol"
	"github.com/supersky/supersky/pkg/logger"
	"github.com/supersky/supersky/pkg/metrics"
)

const socketWriteTimeout = 10 * time.Second

// SocketHandler exposes the protocol router over a WebSocket. Several
// requests may be in flight on one connection; responses carry the id of
// their request.
type SocketHandler struct {
	router         protocol.Dispatcher
	validator      *middleware.EnvelopeValidator
	originPatterns []string
	logger         *logger.Logger
}

// NewSocketHandler creates a new socket handler.
func NewSocketHandler(router protocol.Dispatcher, validator *middleware.EnvelopeValidator, originPatterns []string, log *logger.Logger) *SocketHandler {
	return &SocketHandler{
		router:         router,
		validator:      validator,
		originPatterns: originPatterns,
		logger:         log,
	}
}

type inboundFrame struct {
	ID      string          `json:"id"`
	Request json.RawMessage `json:"request"`
}

// Serve handles GET /api/v1/socket.
func (h *SocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(middleware.MaxRequestBytes)
	defer conn.Close(websocket.StatusInternalError, "")

	metrics.IncrementSocketConnections()
	defer metrics.DecrementSocketConnections()

	log := h.logger.With(zap.String("subject", middleware.GetSubject(r.Context())))
	log.Debug("socket connected")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("socket read ended", zap.Error(err))
			}
			return
		}
		h.handleFrame(ctx, conn, data, log)
	}
}

func (h *SocketHandler) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte, log *logger.Logger) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil || in.ID == "" {
		h.write(ctx, conn, protocol.Frame{ID: in.ID, Error: "invalid frame"}, log)
		return
	}
	if h.validator != nil {
		if err := h.validator.Validate(in.Request); err != nil {
			h.write(ctx, conn, protocol.Frame{ID: in.ID, Error: "invalid request envelope"}, log)
			return
		}
	}
	req, err := protocol.DecodeRequest(in.Request)
	if err != nil {
		h.write(ctx, conn, protocol.Frame{ID: in.ID, Error: "invalid request"}, log)
		return
	}

	future, ok := h.router.Dispatch(ctx, req)
	if !ok {
		h.write(ctx, conn, protocol.Frame{ID: in.ID, NoResponse: true}, log)
		return
	}

	go func() {
		resp, err := future.Await(ctx)
		if err != nil {
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			h.write(ctx, conn, protocol.Frame{ID: in.ID, Error: "failed to encode response"}, log)
			return
		}
		h.write(ctx, conn, protocol.Frame{ID: in.ID, Response: payload}, log)
	}()
}

func (h *SocketHandler) write(ctx context.Context, conn *websocket.Conn, frame protocol.Frame, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		log.Debug("socket write failed", zap.String("id", frame.ID), zap.Error(err))
	}
}

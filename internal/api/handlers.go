// Package api exposes the daemon's control surface: a small JSON API over
// the session's Unix domain socket, plus a websocket tail of the event bus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gmcamargo/koinonia/internal/feed"
	"github.com/gmcamargo/koinonia/internal/room"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Controller is the slice of the daemon session the handlers drive.
type Controller interface {
	OpenRoom(ctx context.Context, roomID string) error
	RoomSnapshot() room.Snapshot
	FeedSnapshot() feed.Snapshot
	Send(ctx context.Context, body string) error
	LoadOlder(ctx context.Context) error
	RefreshMembership(ctx context.Context) error
	Leave(ctx context.Context) error
}

type openRoomRequest struct {
	RoomID string `json:"room_id"`
}

type sendRequest struct {
	Body string `json:"body"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// NewRouter builds the control API router.
func NewRouter(ctrl Controller, events *EventStream, logger *zap.Logger) chi.Router {
	h := &handlers{ctrl: ctrl, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/room", h.getRoom)
		r.Post("/room/open", h.openRoom)
		r.Get("/messages", h.getMessages)
		r.Post("/messages", h.sendMessage)
		r.Post("/messages/older", h.loadOlder)
		r.Delete("/membership", h.leave)
		r.Post("/membership/refresh", h.refreshMembership)
		r.Get("/events", events.Handle)
	})
	return r
}

type handlers struct {
	ctrl   Controller
	logger *zap.Logger
}

func (h *handlers) getRoom(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.RoomSnapshot())
}

func (h *handlers) openRoom(w http.ResponseWriter, r *http.Request) {
	var req openRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "room_id is required"})
		return
	}
	if err := h.ctrl.OpenRoom(r.Context(), req.RoomID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handlers) getMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.FeedSnapshot())
}

func (h *handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body"})
		return
	}
	if err := h.ctrl.Send(r.Context(), req.Body); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func (h *handlers) loadOlder(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.LoadOlder(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func (h *handlers) leave(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Leave(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handlers) refreshMembership(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.RefreshMembership(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, feed.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, feed.ErrNoRoom), errors.Is(err, room.ErrNoRoom):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/DoyleJ11/secret-word-backend/internal/projection"
	"github.com/DoyleJ11/secret-word-backend/pkg/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 10

// StatusFor maps the error taxonomy to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrCapacity):
		return http.StatusConflict
	case errors.Is(err, engine.ErrConflictExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, types.ErrorResponse{Code: engine.Kind(err), Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Code: "validation", Error: "bad json"})
		return false
	}
	return true
}

func CreateRoom(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateRoomRequest
		if !decode(w, r, &req) {
			return
		}

		sess, _, err := svc.CreateRoom(r.Context(), req.Name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, types.RoomSession{RoomID: sess.RoomID, PlayerID: sess.PlayerID})
	}
}

func JoinRoom(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.JoinRoomRequest
		if !decode(w, r, &req) {
			return
		}

		sess, _, err := svc.JoinRoom(r.Context(), chi.URLParam(r, "code"), req.Name, req.PlayerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.RoomSession{RoomID: sess.RoomID, PlayerID: sess.PlayerID})
	}
}

func LeaveRoom(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := lobby.Session{RoomID: chi.URLParam(r, "code"), PlayerID: chi.URLParam(r, "playerID")}
		if _, err := svc.LeaveRoom(r.Context(), sess); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetRoom returns the room as the player_id query parameter may see it.
func GetRoom(svc *lobby.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, version, err := svc.Room(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		viewer := r.URL.Query().Get("player_id")
		writeJSON(w, http.StatusOK, projection.StateFor(room, version, viewer, svc.Rules().RoundDuration))
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

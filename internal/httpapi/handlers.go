package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/choco0031/thisorthat/internal/hub"
	"github.com/choco0031/thisorthat/pkg/types"
)

const qrSize = 320

type createRequest struct {
	Username string `json:"username"`
}

type createResponse struct {
	Code  string          `json:"code"`
	Lobby types.LobbyView `json:"lobby"`
}

type joinRequest struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type joinResponse struct {
	Lobby        types.LobbyView `json:"lobby"`
	Reconnection bool            `json:"reconnection,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func CreateLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		code, lobby, err := h.CreateLobby(r.Context(), req.Username)
		switch {
		case errors.Is(err, hub.ErrInvalidUsername):
			writeError(w, http.StatusBadRequest, "Username must be at least 2 characters")
			return
		case err != nil:
			log.Error("create lobby failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create lobby")
			return
		}

		writeJSON(w, http.StatusCreated, createResponse{Code: code, Lobby: lobby})
	}
}

func JoinLobby(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Username) == "" {
			writeError(w, http.StatusBadRequest, "Code and username are required")
			return
		}

		lobby, reconnection, err := h.JoinLobby(r.Context(), req.Code, req.Username)
		switch {
		case errors.Is(err, hub.ErrLobbyNotFound):
			writeError(w, http.StatusNotFound, "Lobby not found")
			return
		case errors.Is(err, hub.ErrMissingUsername):
			writeError(w, http.StatusBadRequest, "Code and username are required")
			return
		case err != nil:
			log.Error("join lobby failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to join lobby")
			return
		}

		writeJSON(w, http.StatusOK, joinResponse{Lobby: lobby, Reconnection: reconnection})
	}
}

func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobby, err := h.Lobby(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusNotFound, "Lobby not found")
			return
		}
		writeJSON(w, http.StatusOK, lobby)
	}
}

// LobbyQR renders a PNG QR code of the join link for a lobby.
func LobbyQR(h *hub.Hub, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobby, err := h.Lobby(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			writeError(w, http.StatusNotFound, "Lobby not found")
			return
		}

		png, err := qrcode.Encode(joinLink(r, publicURL, lobby.Code), qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr generation failed")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

// joinLink points at the front end with the code prefilled. Without a
// configured public URL it is derived from the request.
func joinLink(r *http.Request, publicURL, code string) string {
	base := strings.TrimSuffix(publicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?code=" + url.QueryEscape(code)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Version(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("thisorthat v" + version + "\n"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

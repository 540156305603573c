package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/puzzle-duel-backend/internal/hub"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/room"
	"github.com/DoyleJ11/puzzle-duel-backend/internal/store"
)

const (
	qrSize = 320

	defaultResultsLimit = 20
	maxResultsLimit     = 100
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// CreateRoom opens a room named after the requested base plus a unique suffix.
func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid body")
				return
			}
		}

		rm, err := h.Create(r.Context(), body.Name)
		if err != nil || rm == nil {
			log.Error("create room failed", zap.String("base", body.Name), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			RoomID string `json:"roomId"`
		}{RoomID: rm.ID()})
	}
}

func GetRoom(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}

		view, err := rm.State(r.Context())
		if errors.Is(err, room.ErrRoomClosed) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "room unavailable")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// RoomQR renders a PNG QR code linking to the room's join page. With no
// publicURL the link is built from the request's scheme and host.
func RoomQR(h *hub.Hub, publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := lookup(w, r, h)
		if !ok {
			return
		}

		png, err := qrcode.Encode(ShareLink(baseURL(r, publicURL), rm.ID()), qrcode.Medium, qrSize)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "qr generation failed")
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(png)
	}
}

// ShareLink is the URL a second player opens to join roomID.
func ShareLink(base, roomID string) string {
	return strings.TrimSuffix(base, "/") + "/?room=" + url.QueryEscape(roomID)
}

func baseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// Results lists recent match outcomes. A nil Lister serves an empty list.
func Results(l store.Lister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultResultsLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxResultsLimit)
		}

		results := []store.Result{}
		if l != nil {
			got, err := l.Recent(r.Context(), limit)
			if err != nil {
				log.Error("list results failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to list results")
				return
			}
			results = append(results, got...)
		}
		writeJSON(w, http.StatusOK, results)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func lookup(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*room.Room, bool) {
	rm, err := h.Get(r.Context(), chi.URLParam(r, "roomID"))
	switch {
	case errors.Is(err, hub.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "room unavailable")
		return nil, false
	}
	return rm, true
}

package routes

import (
	"net/http"
)

func (h *RouteHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ICE returns the STUN/TURN servers browsers should use for calls
func (h *RouteHandler) ICE(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"iceServers": h.iceServers})
}

func (h *RouteHandler) Profiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.dispatcher.Conversation().Profiles(r.Context())
	if err != nil {
		h.log.Error("error loading profiles", "err", err)
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "storage unavailable"})
		return
	}
	WriteJSON(w, http.StatusOK, profiles)
}

// Upload acknowledges without storing anything. Avatars are sent over the websocket with upload_profile,
// older clients still post here first.
func (h *RouteHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("upload received", "content_length", r.ContentLength)
	WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ABOUTME: HTTP handlers for the room preview endpoint
// ABOUTME: Parses the rooms parameter and wraps results in the response envelope

package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pangea-chat/preview-gateway/internal/auth"
	"github.com/pangea-chat/preview-gateway/internal/preview"
)

// PreviewResponse is the JSON envelope for GET /_pangea/preview.
// Unknown room IDs map to an empty object.
type PreviewResponse struct {
	Rooms map[string]preview.RoomPayload `json:"rooms"`
}

// ErrorResponse is the JSON body for error statuses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handlePreview handles GET /_pangea/preview?rooms=a,b,c requests.
// The caller is authenticated by middleware; their user ID keys the
// rate limiter. A missing or empty rooms parameter returns an empty
// envelope without touching the pipeline.
func (g *Gateway) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := auth.UserFromContext(r.Context())
	if !g.limiter.Admit(userID) {
		g.logger.Debug("request rate limited", "user_id", userID)
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "Rate limited"})
		return
	}

	roomIDs := parseRoomsParam(r.URL.Query().Get("rooms"))
	if len(roomIDs) == 0 {
		writeJSON(w, http.StatusOK, PreviewResponse{Rooms: map[string]preview.RoomPayload{}})
		return
	}

	rooms, err := g.previews.GetPreview(r.Context(), roomIDs)
	if err != nil {
		g.logger.Error("preview request failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, PreviewResponse{Rooms: rooms})
}

// handleHealth handles GET /healthz requests.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseRoomsParam splits the comma-delimited rooms parameter, trimming
// whitespace and dropping empty entries.
func parseRoomsParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var roomIDs []string
	for _, part := range strings.Split(raw, ",") {
		if roomID := strings.TrimSpace(part); roomID != "" {
			roomIDs = append(roomIDs, roomID)
		}
	}
	return roomIDs
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

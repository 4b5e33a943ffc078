package httpapi

import (
	"encoding/json"
	"net/http"
)

type updateFeedItemRequest struct {
	IsRead  *bool `json:"isRead"`
	Starred *bool `json:"starred"`
}

// handleUpdateFeedItem applies the only mutation FeedItems support after
// creation: toggling the read/starred flags a reader sets.
func (s *Server) handleUpdateFeedItem(w http.ResponseWriter, r *http.Request) {
	var req updateFeedItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IsRead == nil && req.Starred == nil {
		writeError(w, http.StatusBadRequest, "isRead or starred is required")
		return
	}

	id := r.PathValue("id")
	if err := s.store.UpdateItemFlags(r.Context(), id, req.IsRead, req.Starred); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

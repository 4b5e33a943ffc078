package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fenilsonani/feedmailer/internal/model"
)

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	if ruleID := r.URL.Query().Get("ruleId"); ruleID != "" {
		feeds, err := s.store.ListFeedsByRule(r.Context(), ruleID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, feeds)
		return
	}
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, feeds)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFeed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type createFeedRequest struct {
	RuleID      string `json:"ruleId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	FeedType    string `json:"feedType"`
	Active      bool   `json:"active"`
	MaxItems    int    `json:"maxItems"`
	MaxAgeDays  int    `json:"maxAgeDays"`
	MinItems    int    `json:"minItems"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RuleID == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "ruleId and title are required")
		return
	}

	feedType := model.FeedTypeRSS
	if req.FeedType == string(model.FeedTypeAtom) {
		feedType = model.FeedTypeAtom
	}

	now := time.Now().UTC()
	f := &model.Feed{
		ID:          uuid.NewString(),
		RuleID:      req.RuleID,
		Title:       req.Title,
		Description: req.Description,
		Link:        req.Link,
		FeedType:    feedType,
		Active:      req.Active,
		MaxItems:    req.MaxItems,
		MaxAgeDays:  req.MaxAgeDays,
		MinItems:    req.MinItems,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.NormalizeRetention()

	if err := s.store.CreateFeed(r.Context(), f); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type updateFeedRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Link        *string `json:"link"`
	FeedType    *string `json:"feedType"`
	Active      *bool   `json:"active"`
	MaxItems    *int    `json:"maxItems"`
	MaxAgeDays  *int    `json:"maxAgeDays"`
	MinItems    *int    `json:"minItems"`
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFeed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	var req updateFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title != nil {
		f.Title = *req.Title
	}
	if req.Description != nil {
		f.Description = *req.Description
	}
	if req.Link != nil {
		f.Link = *req.Link
	}
	if req.FeedType != nil {
		if *req.FeedType == string(model.FeedTypeAtom) {
			f.FeedType = model.FeedTypeAtom
		} else {
			f.FeedType = model.FeedTypeRSS
		}
	}
	if req.Active != nil {
		f.Active = *req.Active
	}
	if req.MaxItems != nil {
		f.MaxItems = *req.MaxItems
	}
	if req.MaxAgeDays != nil {
		f.MaxAgeDays = *req.MaxAgeDays
	}
	if req.MinItems != nil {
		f.MinItems = *req.MinItems
	}
	f.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateFeed(r.Context(), f); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteFeed(r.Context(), r.PathValue("id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFeedItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetFeed(r.Context(), id); err != nil {
		writeStoreErr(w, err)
		return
	}
	items, err := s.store.ListItemsByFeed(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fenilsonani/feedmailer/internal/model"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	if accountID := r.URL.Query().Get("accountId"); accountID != "" {
		rules, err := s.store.ListRulesByAccount(r.Context(), accountID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, rules)
		return
	}
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type createRuleRequest struct {
	AccountID    string  `json:"accountId"`
	DisplayName  string  `json:"displayName"`
	Folder       string  `json:"folder"`
	MatchTo      *string `json:"matchTo"`
	MatchFrom    *string `json:"matchFrom"`
	MatchSubject *string `json:"matchSubject"`
	Label        string  `json:"label"`
	Active       bool    `json:"active"`
	PostAction   *string `json:"postAction"`
	MoveFolder   string  `json:"moveFolder"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccountID == "" || req.Folder == "" {
		writeError(w, http.StatusBadRequest, "accountId and folder are required")
		return
	}

	now := time.Now().UTC()
	rule := &model.Rule{
		ID:           uuid.NewString(),
		AccountID:    req.AccountID,
		DisplayName:  req.DisplayName,
		Folder:       req.Folder,
		MatchTo:      req.MatchTo,
		MatchFrom:    req.MatchFrom,
		MatchSubject: req.MatchSubject,
		Label:        req.Label,
		Active:       req.Active,
		MoveFolder:   req.MoveFolder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.PostAction != nil {
		action := model.ParsePostAction(*req.PostAction)
		rule.PostAction = &action
	}

	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

type updateRuleRequest struct {
	DisplayName  *string `json:"displayName"`
	Folder       *string `json:"folder"`
	MatchTo      *string `json:"matchTo"`
	MatchFrom    *string `json:"matchFrom"`
	MatchSubject *string `json:"matchSubject"`
	Label        *string `json:"label"`
	Active       *bool   `json:"active"`
	PostAction   *string `json:"postAction"`
	MoveFolder   *string `json:"moveFolder"`
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	var req updateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName != nil {
		rule.DisplayName = *req.DisplayName
	}
	if req.Folder != nil {
		rule.Folder = *req.Folder
	}
	if req.MatchTo != nil {
		rule.MatchTo = req.MatchTo
	}
	if req.MatchFrom != nil {
		rule.MatchFrom = req.MatchFrom
	}
	if req.MatchSubject != nil {
		rule.MatchSubject = req.MatchSubject
	}
	if req.Label != nil {
		rule.Label = *req.Label
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
	if req.PostAction != nil {
		action := model.ParsePostAction(*req.PostAction)
		rule.PostAction = &action
	}
	if req.MoveFolder != nil {
		rule.MoveFolder = *req.MoveFolder
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fenilsonani/feedmailer/internal/model"
)

// scrubPassword returns a copy of a with the decrypted password removed,
// since GetAccount/ListAccounts hand back plaintext for the Processor's use
// and that plaintext must never reach a management API response.
func scrubPassword(a *model.Account) model.Account {
	out := *a
	out.Password = ""
	return out
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]model.Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, scrubPassword(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrubPassword(a))
}

type createAccountRequest struct {
	DisplayName       string `json:"displayName"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	UseTLS            bool   `json:"useTls"`
	DefaultPostAction string `json:"defaultPostAction"`
	DefaultMoveFolder string `json:"defaultMoveFolder"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "host and username are required")
		return
	}

	now := time.Now().UTC()
	a := &model.Account{
		ID:                uuid.NewString(),
		DisplayName:       req.DisplayName,
		Host:              req.Host,
		Port:              req.Port,
		Username:          req.Username,
		Password:          req.Password,
		UseTLS:            req.UseTLS,
		DefaultPostAction: model.ParsePostAction(req.DefaultPostAction),
		DefaultMoveFolder: req.DefaultMoveFolder,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreateAccount(r.Context(), a); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scrubPassword(a))
}

type updateAccountRequest struct {
	DisplayName       *string `json:"displayName"`
	Host              *string `json:"host"`
	Port              *int    `json:"port"`
	Username          *string `json:"username"`
	Password          *string `json:"password"`
	UseTLS            *bool   `json:"useTls"`
	DefaultPostAction *string `json:"defaultPostAction"`
	DefaultMoveFolder *string `json:"defaultMoveFolder"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DisplayName != nil {
		a.DisplayName = *req.DisplayName
	}
	if req.Host != nil {
		a.Host = *req.Host
	}
	if req.Port != nil {
		a.Port = *req.Port
	}
	if req.Username != nil {
		a.Username = *req.Username
	}
	if req.Password != nil {
		a.Password = *req.Password
	}
	if req.UseTLS != nil {
		a.UseTLS = *req.UseTLS
	}
	if req.DefaultPostAction != nil {
		a.DefaultPostAction = model.ParsePostAction(*req.DefaultPostAction)
	}
	if req.DefaultMoveFolder != nil {
		a.DefaultMoveFolder = *req.DefaultMoveFolder
	}
	a.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateAccount(r.Context(), a); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrubPassword(a))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAccount(r.Context(), r.PathValue("id")); err != nil {
		writeStoreErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

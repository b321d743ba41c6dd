package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/model"
)

type UserHandler struct {
	profiles *chat.Profiles
	search   *chat.Search
}

func NewUserHandler(profiles *chat.Profiles, search *chat.Search) *UserHandler {
	return &UserHandler{profiles: profiles, search: search}
}

type createUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u, err := h.profiles.Create(r.Context(), req.Username, req.DisplayName, req.Email)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.profiles.Get(r.Context(), UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.profiles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateUserRequest struct {
	DisplayName string  `json:"display_name"`
	AvatarID    *string `json:"avatar_id"`
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	u, err := h.profiles.Update(r.Context(), UserID(r.Context()), req.DisplayName, req.AvatarID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CheckUsername reports whether a username is free to take.
func (h *UserHandler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	ok, err := h.profiles.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": ok})
}

// Search finds users by username or display name, never returning the
// caller themselves.
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	users, err := h.search.Users(r.Context(), UserID(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if users == nil {
		users = []*model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

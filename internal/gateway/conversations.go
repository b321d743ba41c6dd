package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/model"
)

type ConversationHandler struct {
	resolver *chat.Resolver
	lister   *chat.Lister
	tracker  *chat.ReadTracker
}

func NewConversationHandler(resolver *chat.Resolver, lister *chat.Lister, tracker *chat.ReadTracker) *ConversationHandler {
	return &ConversationHandler{resolver: resolver, lister: lister, tracker: tracker}
}

// refFromURL parses the {kind}/{id} route pair into a conversation
// reference.
func refFromURL(r *http.Request) (model.Ref, bool) {
	kind := model.Kind(chi.URLParam(r, "kind"))
	id := chi.URLParam(r, "id")
	if (kind != model.KindDirect && kind != model.KindGroup) || id == "" {
		return model.Ref{}, false
	}
	return model.Ref{Kind: kind, ID: id}, true
}

// List returns the merged sidebar for the caller.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.lister.ForUser(r.Context(), UserID(r.Context()))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type resolveDirectRequest struct {
	UserID string `json:"user_id"`
}

// ResolveDirect finds or creates the direct conversation with another user.
func (h *ConversationHandler) ResolveDirect(w http.ResponseWriter, r *http.Request) {
	var req resolveDirectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	conv, err := h.resolver.ResolveDirect(r.Context(), UserID(r.Context()), req.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	AvatarID    string `json:"avatar_id"`
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	conv, err := h.resolver.CreateGroup(r.Context(), UserID(r.Context()), req.Name, req.Description, req.AvatarID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	conv, err := h.resolver.Get(r.Context(), ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !conv.HasParticipant(UserID(r.Context())) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type membersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (h *ConversationHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	conv, err := h.resolver.AddParticipants(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), req.UserIDs...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	conv, err := h.resolver.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.Leave(r.Context(), chi.URLParam(r, "id"), UserID(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateGroupRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	AvatarID    *string `json:"avatar_id"`
}

func (h *ConversationHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	conv, err := h.resolver.UpdateGroup(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()), req.Name, req.Description, req.AvatarID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete removes a conversation: groups are deactivated, direct chats are
// erased together with their history.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	var err error
	switch ref.Kind {
	case model.KindGroup:
		err = h.resolver.DeleteGroup(r.Context(), ref.ID, UserID(r.Context()))
	case model.KindDirect:
		err = h.resolver.DeleteDirect(r.Context(), ref.ID, UserID(r.Context()))
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	if err := h.resolver.ClearHistory(r.Context(), ref, UserID(r.Context())); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead moves the caller's read marker for the conversation to now.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	if err := h.tracker.MarkRead(r.Context(), UserID(r.Context()), ref); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unread returns the caller's unread count for one conversation.
func (h *ConversationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	n, err := h.tracker.UnreadCount(r.Context(), UserID(r.Context()), ref)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": n})
}

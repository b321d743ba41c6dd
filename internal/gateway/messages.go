package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/model"
)

type MessageHandler struct {
	messages *chat.Messages
	search   *chat.Search
	pageSize int
}

func NewMessageHandler(messages *chat.Messages, search *chat.Search, pageSize int) *MessageHandler {
	return &MessageHandler{messages: messages, search: search, pageSize: pageSize}
}

// Page returns one page of history, query params limit and offset; offset 0
// is the newest page.
func (h *MessageHandler) Page(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	limit := queryInt(r, "limit", h.pageSize)
	offset := queryInt(r, "offset", 0)
	msgs, err := h.messages.Page(r.Context(), ref, UserID(r.Context()), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendRequest struct {
	Text        string             `json:"text"`
	Attachments []model.Attachment `json:"attachments"`
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := h.messages.Send(r.Context(), ref, UserID(r.Context()), req.Text, req.Attachments)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Search scans the recent window of the conversation for the q term.
func (h *MessageHandler) Search(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conversation reference")
		return
	}
	msgs, err := h.search.Messages(r.Context(), ref, r.URL.Query().Get("q"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

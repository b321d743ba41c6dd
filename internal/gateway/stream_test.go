package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/model"
)

func dialStream(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-Id": []string{userID}})
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

// readPayload reads frames until one of the wanted type arrives.
func readPayload(t *testing.T, conn *websocket.Conn, wantType string) streamPayload {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var p streamPayload
		if err := conn.ReadJSON(&p); err != nil {
			t.Fatalf("waiting for %q payload: %v", wantType, err)
		}
		if p.Type == wantType {
			return p
		}
	}
}

func TestStreamSearchCommandDebounced(t *testing.T) {
	h, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	w := do(t, h, http.MethodPost, "/api/conversations/direct", "alice", `{"user_id":"bob"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d", w.Code)
	}
	var conv model.Conversation
	if err := json.NewDecoder(w.Body).Decode(&conv); err != nil {
		t.Fatal(err)
	}
	path := "/api/conversations/direct/" + conv.ID + "/messages"
	for _, text := range []string{"the deadline moved", "great idea"} {
		if w := do(t, h, http.MethodPost, path, "alice", `{"text":"`+text+`"}`); w.Code != http.StatusCreated {
			t.Fatalf("send %q: status = %d", text, w.Code)
		}
	}

	conn := dialStream(t, srv, "alice")
	defer conn.Close()

	open := streamCommand{Action: "open", Kind: model.KindDirect, ID: conv.ID}
	if err := conn.WriteJSON(open); err != nil {
		t.Fatal(err)
	}
	if p := readPayload(t, conn, "messages"); len(p.Messages) != 2 {
		t.Fatalf("snapshot = %d messages, want 2", len(p.Messages))
	}

	// Two keystroke commands in a burst; only the final term gets queried.
	for _, q := range []string{"deadline", "great"} {
		if err := conn.WriteJSON(streamCommand{Action: "search", Query: q}); err != nil {
			t.Fatal(err)
		}
	}
	p := readPayload(t, conn, "search")
	if len(p.Messages) != 1 || p.Messages[0].Text != "great idea" {
		t.Fatalf("search results = %+v, want the final term's match", p.Messages)
	}

	// The superseded first query never produces a payload.
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var extra streamPayload
	if err := conn.ReadJSON(&extra); err == nil && extra.Type == "search" {
		t.Errorf("superseded query still ran: %+v", extra.Messages)
	}
}

func TestStreamSearchWithoutOpenConversation(t *testing.T) {
	h, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dialStream(t, srv, "alice")
	defer conn.Close()

	if err := conn.WriteJSON(streamCommand{Action: "search", Query: "anything"}); err != nil {
		t.Fatal(err)
	}
	if p := readPayload(t, conn, "error"); p.Error != "no open conversation" {
		t.Errorf("error = %q, want no open conversation", p.Error)
	}
}

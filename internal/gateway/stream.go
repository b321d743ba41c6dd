package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/chat"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const maxCommandSize = 4096

// StreamHandler serves the live conversation view over a WebSocket. Each
// connection owns one chat.Streams, so at most one conversation is live per
// socket and switching conversations tears the old subscription down before
// the new one opens.
type StreamHandler struct {
	newStreams func() *chat.Streams
	resolver   *chat.Resolver
	search     *chat.Search

	upgrader  websocket.Upgrader
	sendBuf   int
	writeWait time.Duration
	pongWait  time.Duration
	debounce  time.Duration
}

func NewStreamHandler(newStreams func() *chat.Streams, resolver *chat.Resolver, search *chat.Search, sendBuf, writeTimeoutSec, pongTimeoutSec int, debounce time.Duration) *StreamHandler {
	return &StreamHandler{
		newStreams: newStreams,
		resolver:   resolver,
		search:     search,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is enforced at the router; the socket accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuf:   sendBuf,
		writeWait: time.Duration(writeTimeoutSec) * time.Second,
		pongWait:  time.Duration(pongTimeoutSec) * time.Second,
		debounce:  debounce,
	}
}

type streamCommand struct {
	Action string     `json:"action"` // "open" | "close" | "search"
	Kind   model.Kind `json:"kind"`
	ID     string     `json:"id"`
	Query  string     `json:"query,omitempty"`
}

type streamPayload struct {
	Type     string           `json:"type"` // "messages" | "search" | "error"
	State    string           `json:"state,omitempty"`
	Ref      *model.Ref       `json:"ref,omitempty"`
	Messages []*model.Message `json:"messages,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &streamConn{
		handler:  h,
		conn:     conn,
		userID:   userID,
		streams:  h.newStreams(),
		debounce: chat.NewDebouncer(h.debounce),
		send:     make(chan streamPayload, h.sendBuf),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go c.writePump(ctx)
	c.readPump(ctx)
}

type streamConn struct {
	handler  *StreamHandler
	conn     *websocket.Conn
	userID   string
	streams  *chat.Streams
	debounce *chat.Debouncer

	send   chan streamPayload
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func (c *streamConn) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.debounce.Stop()
		c.streams.Close()
		c.conn.Close()
	})
}

func (c *streamConn) enqueue(p streamPayload) {
	select {
	case c.send <- p:
	case <-c.done:
	default:
		// A reader this far behind will be closed by the write pump anyway.
	}
}

func (c *streamConn) readPump(ctx context.Context) {
	defer c.close()
	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.handler.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd streamCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.enqueue(streamPayload{Type: "error", Error: "invalid command"})
			continue
		}
		switch cmd.Action {
		case "open":
			c.open(ctx, model.Ref{Kind: cmd.Kind, ID: cmd.ID})
		case "close":
			c.streams.Close()
		case "search":
			c.runSearch(ctx, cmd.Query)
		default:
			c.enqueue(streamPayload{Type: "error", Error: "unknown action"})
		}
	}
}

func (c *streamConn) open(ctx context.Context, ref model.Ref) {
	if (ref.Kind != model.KindDirect && ref.Kind != model.KindGroup) || ref.ID == "" {
		c.enqueue(streamPayload{Type: "error", Error: "invalid conversation reference"})
		return
	}
	conv, err := c.handler.resolver.Get(ctx, ref)
	if err != nil {
		c.enqueue(streamPayload{Type: "error", Error: "conversation not found"})
		return
	}
	if !conv.HasParticipant(c.userID) {
		c.enqueue(streamPayload{Type: "error", Error: "forbidden"})
		return
	}

	s, err := c.streams.Open(ctx, ref)
	if err != nil {
		logger.Errorf("ws open %s user=%s: %v", ref.Key(), c.userID, err)
		c.enqueue(streamPayload{Type: "error", Error: "failed to open stream"})
		return
	}
	c.push(s)
	go func() {
		for range s.Updates() {
			c.push(s)
		}
	}()
}

// runSearch searches the open conversation, debounced so a burst of
// keystroke commands becomes one query for the final term.
func (c *streamConn) runSearch(ctx context.Context, query string) {
	s := c.streams.Active()
	if s == nil {
		c.enqueue(streamPayload{Type: "error", Error: "no open conversation"})
		return
	}
	ref := s.Ref()
	c.debounce.Call(func() {
		msgs, err := c.handler.search.Messages(ctx, ref, query)
		if err != nil {
			logger.Errorf("ws search %s user=%s: %v", ref.Key(), c.userID, err)
			c.enqueue(streamPayload{Type: "error", Error: "search failed"})
			return
		}
		if msgs == nil {
			msgs = []*model.Message{}
		}
		c.enqueue(streamPayload{Type: "search", Ref: &ref, Messages: msgs})
	})
}

func (c *streamConn) push(s *chat.Stream) {
	r := s.Ref()
	c.enqueue(streamPayload{
		Type:     "messages",
		State:    s.State().String(),
		Ref:      &r,
		Messages: s.Messages(),
	})
}

func (c *streamConn) writePump(ctx context.Context) {
	pingPeriod := c.handler.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
			if err := c.conn.WriteJSON(p); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.handler.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

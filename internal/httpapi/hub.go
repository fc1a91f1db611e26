package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/events"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	clientQueueSize = 64
	writeTimeout    = 10 * time.Second
	pongTimeout     = 60 * time.Second
	pingInterval    = pongTimeout * 9 / 10
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-relay/internal/httpapi")

// Message is what event socket clients receive.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

const (
	MessageTypeEffect  = "effect"
	MessageTypeDisplay = "display"
)

// Hub fans messages out to every connected event socket. A client that
// cannot keep up is disconnected rather than slowing the others down.
type Hub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	send chan []byte
	once sync.Once

	// namespaces limits delivery to these event namespaces; empty means all.
	namespaces map[string]struct{}
}

func (c *hubClient) wants(msgType string) bool {
	if len(c.namespaces) == 0 {
		return true
	}
	_, ok := c.namespaces[events.Kind(msgType).Namespace()]
	return ok
}

func (c *hubClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub() *Hub {
	return &Hub{clients: map[*hubClient]struct{}{}}
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("failed to encode event message", slog.String("type", msg.Type), slog.Any("error", err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(msg.Type) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			delete(h.clients, client)
			client.close()
		}
	}
}

// Observe is an orchestration event listener.
func (h *Hub) Observe(event events.Event) {
	var data any = event
	if failed, ok := event.(events.AssistantResponseFailed); ok {
		errText := ""
		if failed.Err != nil {
			errText = failed.Err.Error()
		}
		data = map[string]string{"TurnID": failed.TurnID, "Error": errText}
	}
	h.Broadcast(Message{Type: string(event.Kind()), Timestamp: event.Timestamp(), Data: data})
}

// HandleEffect lets remote clients act on keyword effects.
func (h *Hub) HandleEffect(_ context.Context, tag effects.Tag) {
	h.Broadcast(Message{
		Type:      MessageTypeEffect,
		Timestamp: time.Now(),
		Data:      map[string]string{"tag": string(tag)},
	})
}

// Display lets remote clients show assistant speech.
func (h *Hub) Display(_ context.Context, text string) {
	h.Broadcast(Message{
		Type:      MessageTypeDisplay,
		Timestamp: time.Now(),
		Data:      map[string]string{"text": text},
	})
}

// Serve registers conn and pumps messages to it until the client goes away
// or ctx ends. With namespaces set, only messages whose type falls in one of
// them are delivered; effect and display messages are their own namespace.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, namespaces ...string) {
	client := &hubClient{send: make(chan []byte, clientQueueSize)}
	for _, namespace := range namespaces {
		if client.namespaces == nil {
			client.namespaces = map[string]struct{}{}
		}
		client.namespaces[namespace] = struct{}{}
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		client.close()
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-client.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package bridge relays bus traffic to websocket clients and publishes what
// they send back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/pkg/hasher"
	"github.com/denis-papin/ava-home/pkg/sockets"
)

var ErrEventsClosed = errors.New("event stream closed")

const pingInterval = 30 * time.Second

// Frame is the wire format in both directions.
type Frame struct {
	Topic      string `json:"topic"`
	RawMessage string `json:"raw_message"`
}

type Hub struct {
	pub       device.Publisher
	tokenHash string
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]sockets.Connection

	logger *zap.Logger
}

// NewHub builds a hub publishing client frames with pub. When tokenHash is
// set, clients must present the matching token in the "token" query
// parameter.
func NewHub(pub device.Publisher, tokenHash string) *Hub {
	return &Hub{
		pub:       pub,
		tokenHash: tokenHash,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]sockets.Connection),
		logger:  zap.L(),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.tokenHash != "" && !hasher.TokenCorrect(r.URL.Query().Get("token"), h.tokenHash) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := "bridge-client-" + uuid.NewString()
	conn, err := sockets.Accept(w, r, &h.upgrader,
		sockets.WithID(id),
		sockets.WithPingInterval(pingInterval),
		sockets.OnMessage(h.fromClient),
		sockets.OnClose(h.onClose),
	)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.mu.Lock()
	h.clients[id] = conn
	h.mu.Unlock()
	h.logger.Info("client connected", zap.String("client", id), zap.String("peer", r.RemoteAddr))
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run forwards every event to all clients until ctx is done.
func (h *Hub) Run(ctx context.Context, events <-chan bus.Event) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				h.closeAll()
				return ErrEventsClosed
			}
			h.Broadcast(ev)
		}
	}
}

func (h *Hub) Broadcast(ev bus.Event) {
	body, err := json.Marshal(Frame{Topic: ev.Topic, RawMessage: string(ev.Payload)})
	if err != nil {
		h.logger.Error("cannot encode frame", zap.String("topic", ev.Topic), zap.Error(err))
		return
	}
	h.mu.RLock()
	clients := make([]sockets.Connection, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(body); err != nil {
			h.logger.Debug("send failed", zap.String("client", c.ID()), zap.Error(err))
			h.remove(c.ID())
		}
	}
}

func (h *Hub) fromClient(body []byte, c sockets.Connection) {
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil || f.Topic == "" {
		h.logger.Warn("ignoring client frame", zap.String("client", c.ID()), zap.ByteString("frame", body), zap.Error(err))
		return
	}
	if err := h.pub.Publish(context.Background(), f.Topic, []byte(f.RawMessage)); err != nil {
		h.logger.Error("cannot publish client frame", zap.String("client", c.ID()), zap.String("topic", f.Topic), zap.Error(err))
		return
	}
	h.logger.Info("client published", zap.String("client", c.ID()), zap.String("topic", f.Topic))
}

func (h *Hub) onClose(c sockets.Connection, err error) {
	h.remove(c.ID())
	h.logger.Info("client disconnected", zap.String("client", c.ID()), zap.Error(err))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]sockets.Connection)
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}
}

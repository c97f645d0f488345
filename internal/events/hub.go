package events

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const hubWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// Hub streams bus events to websocket clients as JSON.
type Hub struct {
	bus    *Bus
	logger *slog.Logger
}

// NewHub creates a Hub over bus.
func NewHub(bus *Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{bus: bus, logger: logger}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so no event published after
	// it is missed.
	events, cancel := h.bus.Subscribe(64)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			h.logger.Debug("event stream closed", "remote", r.RemoteAddr)
			return
		}
	}
}

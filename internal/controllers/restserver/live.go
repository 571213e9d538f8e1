package restserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/chrissnell/weatherhat/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// clientSendBuffer is how many frames may queue for one client before it
	// is considered too slow and disconnected.
	clientSendBuffer = 16
)

// liveMessage is the frame sent to /live clients.
type liveMessage struct {
	Type string        `json:"type"`
	TS   time.Time     `json:"ts"`
	Data types.Reading `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveHub streams every reading it receives to the websocket clients
// connected to /live. A newly connected client first receives the latest
// reading of each station.
type LiveHub struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	latest  map[string][]byte
	stopped bool
}

type liveClient struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	closeOnce  sync.Once
}

// NewLiveHub creates a hub. It does not broadcast until started as a sink.
func NewLiveHub(logger *zap.SugaredLogger) *LiveHub {
	return &LiveHub{
		logger:  logger,
		clients: make(map[*liveClient]struct{}),
		latest:  make(map[string][]byte),
	}
}

// StartSink broadcasts every reading received on the returned channel until
// ctx is done, then disconnects all clients.
func (h *LiveHub) StartSink(ctx context.Context, wg *sync.WaitGroup) chan<- types.Reading {
	readingChan := make(chan types.Reading, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case r := <-readingChan:
				h.Broadcast(r)
			case <-ctx.Done():
				h.closeAll()
				return
			}
		}
	}()

	return readingChan
}

// Broadcast queues r for every connected client. Clients whose queue is full
// are disconnected.
func (h *LiveHub) Broadcast(r types.Reading) {
	msg, err := json.Marshal(liveMessage{Type: "reading", TS: r.Timestamp, Data: r})
	if err != nil {
		h.logger.Errorf("live: could not encode reading: %v", err)
		return
	}

	var slow []*liveClient

	h.mu.Lock()
	h.latest[r.StationName] = msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.remove(c, "slow client")
	}
}

// Clients returns the number of connected clients.
func (h *LiveHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *LiveHub) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warnw("live: websocket upgrade failed", "remote_addr", req.RemoteAddr, "error", err)
		return
	}

	c := &liveClient{
		conn:       conn,
		send:       make(chan []byte, clientSendBuffer),
		remoteAddr: req.RemoteAddr,
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	for _, msg := range h.latest {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.Infow("live: client connected", "remote_addr", c.remoteAddr, "clients", n)

	// The pumps outlive the request; the connection is ended by the hub or
	// by a read/write error.
	go h.writePump(c)
	go h.readPump(c)
}

func (h *LiveHub) remove(c *liveClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Infow("live: client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func (h *LiveHub) closeAll() {
	h.mu.Lock()
	h.stopped = true
	clients := h.clients
	h.clients = make(map[*liveClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// close ends writePump, which sends a close frame and closes the connection.
func (c *liveClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

func (h *LiveHub) writePump(c *liveClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logWriteError(c, err)
				h.remove(c, "write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logWriteError(c, err)
				h.remove(c, "ping error")
				return
			}
		}
	}
}

// readPump discards anything the client sends. It exists to process control
// frames and to notice when the client goes away.
func (h *LiveHub) readPump(c *liveClient) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c, "read error")
			return
		}
	}
}

func (h *LiveHub) logWriteError(c *liveClient, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		h.logger.Debugw("live: client closed", "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	h.logger.Debugw("live: write failed", "remote_addr", c.remoteAddr, "error", err)
}

// Package hub fans JSON messages out to websocket clients.  Only the hub goroutine touches
// the client set; only a client's write pump writes to its connection.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxMessageSize = 4096
	// Messages queued for one client before it is dropped as too slow.
	sendBuffer = 64
)

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type Hub struct {
	name   string
	logger golog.Logger

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}

	lock    sync.Mutex
	clients map[*client]struct{}
}

func New(name string, logger golog.Logger) *Hub {
	return &Hub{
		name:       name,
		logger:     logger,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		clients:    map[*client]struct{}{},
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.lock.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.lock.Unlock()
			return

		case c := <-h.register:
			h.lock.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.lock.Unlock()
			h.logger.Infow("client connected", "hub", h.name, "clients", count)

		case c := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			count := len(h.clients)
			h.lock.Unlock()
			h.logger.Infow("client disconnected", "hub", h.name, "clients", count)

		case msg := <-h.broadcast:
			h.lock.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warnw("dropping slow client", "hub", h.name)
					h.drop(c)
				}
			}
			h.lock.Unlock()
		}
	}
}

// drop must be called with the lock held.
func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast queues msg for every client.  It never blocks; when the queue is full the
// message is lost.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debugw("broadcast queue full, dropping message", "hub", h.name)
	}
}

func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "%s: encode", h.name)
	}
	h.Broadcast(data)
	return nil
}

func (h *Hub) ClientCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Serve registers conn, sends it first (if any) ahead of every broadcast, and pumps
// messages until the connection fails or the hub stops.
func (h *Hub) Serve(conn Conn, first ...[]byte) {
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer+len(first))}
	for _, msg := range first {
		c.send <- msg
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

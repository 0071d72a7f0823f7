// Package sockets wraps server-side websocket connections: one read loop per
// peer, serialized writes and keep-alive pings.
package sockets

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("closed connection")

const writeWait = 10 * time.Second

type Connection interface {
	ID() string
	Send(body []byte) error
	io.Closer
}

type Conn struct {
	ws           *websocket.Conn
	id           string
	pingInterval time.Duration
	onMessage    func([]byte, Connection)
	onClose      func(Connection, error)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Accept upgrades the request and starts serving the peer.
func Accept(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, opts ...func(*Conn)) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{ws: ws, done: make(chan struct{})}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	c.setupPing()
	return c, nil
}

func (c *Conn) ID() string {
	return c.id
}

// Send writes one text frame.
func (c *Conn) Send(body []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.TextMessage, body)
	c.mu.Unlock()
	if err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	_ = c.ws.Close()
	c.mu.Unlock()
	if c.onClose != nil {
		c.onClose(c, cause)
	}
}

func (c *Conn) readLoop() {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(msg, c)
		}
	}
}

func (c *Conn) setupPing() {
	if c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.mu.Unlock()
				if err != nil {
					c.shutdown(err)
					return
				}
			}
		}
	}()
}

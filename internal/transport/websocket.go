// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"spectro/internal/frame"
	"spectro/internal/log"

	"github.com/gorilla/websocket"
)

// WebSocket defaults.
const (
	DefaultWebSocketPath = "/ws"
	DefaultQueueSize     = 256
	writeTimeout         = time.Second
)

var wsLogger = log.New("WebSocket")

// WebSocketSink broadcasts frames as JSON to every connected client. When
// the queue is full new frames are dropped.
type WebSocketSink struct {
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}

	broadcast chan frame.Frame
	server    *http.Server
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Compile-time checks for interface implementation.
var (
	_ Sink         = (*WebSocketSink)(nil)
	_ http.Handler = (*WebSocketSink)(nil)
)

// NewWebSocketSink returns a sink with its broadcast loop running. Mount
// it as an http.Handler, or call ListenAndServe.
func NewWebSocketSink() *WebSocketSink {
	s := &WebSocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan frame.Frame, DefaultQueueSize),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.handleBroadcasts()
	return s
}

// ListenAndServe serves the sink at DefaultWebSocketPath on addr in the
// background and returns the bound address.
func (s *WebSocketSink) ListenAndServe(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultWebSocketPath, s)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		wsLogger.Infof("serving frames on ws://%s%s", ln.Addr(), DefaultWebSocketPath)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wsLogger.Errorf("server error: %v", err)
		}
	}()
	return ln.Addr(), nil
}

// ServeHTTP upgrades the connection and registers the client.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLogger.Warnf("upgrade error: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	wsLogger.Infof("client connected, total: %d", total)

	// Clients never send; a read error means they went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

// Clients returns the number of connected clients.
func (s *WebSocketSink) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *WebSocketSink) drop(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, ok := s.clients[conn]
	delete(s.clients, conn)
	total := len(s.clients)
	s.clientsMu.Unlock()
	if ok {
		conn.Close()
		wsLogger.Infof("client disconnected, total: %d", total)
	}
}

func (s *WebSocketSink) handleBroadcasts() {
	defer s.wg.Done()
	for {
		select {
		case f := <-s.broadcast:
			s.send(f)
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSink) send(f frame.Frame) {
	s.clientsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clientsMu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteJSON(f); err != nil {
			wsLogger.Warnf("error sending to client: %v", err)
			s.drop(c)
		}
	}
}

// Publish implements Sink. It never blocks.
func (s *WebSocketSink) Publish(f frame.Frame) error {
	select {
	case <-s.done:
		return errors.New("websocket sink is closed")
	default:
	}
	select {
	case s.broadcast <- f:
	default:
		wsLogger.Debugf("queue full, dropping frame at %dms", f.Timestamp)
	}
	return nil
}

// Close disconnects every client and stops the server. It is idempotent.
func (s *WebSocketSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.clientsMu.Lock()
		for c := range s.clients {
			c.Close()
		}
		s.clients = make(map[*websocket.Conn]struct{})
		s.clientsMu.Unlock()

		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err = s.server.Shutdown(ctx)
		}
		wsLogger.Infof("closed")
	})
	return err
}

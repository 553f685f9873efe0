package server

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/captionworks/captionstream/internal/ingest"
	"github.com/captionworks/captionstream/internal/session"
	"github.com/captionworks/captionstream/internal/transport"
)

const maxMessageSize = 4096

// wsClient is one websocket connection. It implements transport.Conn so the
// session manager can push events to it; inbound requests are dispatched to
// the manager from the read pump.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan transport.Envelope

	quit      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	sessionID  uuid.UUID
	hasSession bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan transport.Envelope, s.config.SendBuffer),
		quit:   make(chan struct{}),
	}

	log.Printf("Client connected from %s", conn.RemoteAddr())
	go client.writePump()
	client.readPump()
}

// Send queues env for delivery. It never blocks: a full queue or a closed
// connection returns an error so the manager releases the binding and the
// event is recovered via replay.
func (c *wsClient) Send(env transport.Envelope) error {
	select {
	case <-c.quit:
		return errors.New("connection closed")
	case c.send <- env:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
	return nil
}

// readPump consumes client requests until the connection dies. Heartbeat:
// the read deadline is extended on every pong, and the write pump pings on
// an interval, so dead connections are detected here and the binding
// released independent of session state.
func (c *wsClient) readPump() {
	defer func() {
		c.mu.Lock()
		if c.hasSession {
			c.server.manager.Detach(c.sessionID, c)
		}
		c.mu.Unlock()
		c.Close()
		log.Printf("Client disconnected from %s", c.conn.RemoteAddr())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}

		req, err := transport.ParseRequest(data)
		if err != nil {
			c.sendError("", err.Error())
			continue
		}
		c.handleRequest(req)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) handleRequest(req *transport.Request) {
	switch req.Type {
	case transport.TypeSubmit:
		c.handleSubmit(req)
	case transport.TypeCancel:
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			c.sendError("", "malformed session id")
			return
		}
		c.server.manager.Cancel(id)
	case transport.TypeAttach:
		c.handleAttach(req)
	}
}

func (c *wsClient) handleSubmit(req *transport.Request) {
	lang := req.Lang
	if lang == "" {
		lang = "en"
	}

	src := ingest.SourceDescriptor{
		Kind: req.Source.Kind,
		Path: req.Source.Path,
		URL:  req.Source.URL,
		Lang: lang,
	}

	// A client holds at most one live session: a new submission cancels the
	// previous one and releases its binding.
	c.mu.Lock()
	if c.hasSession {
		c.server.manager.Cancel(c.sessionID)
		c.server.manager.Detach(c.sessionID, c)
	}
	c.mu.Unlock()

	id, err := c.server.manager.Submit(src)
	if err != nil {
		c.sendError("", err.Error())
		return
	}

	c.mu.Lock()
	c.sessionID = id
	c.hasSession = true
	c.mu.Unlock()

	c.Send(transport.Envelope{Type: transport.TypeAccepted, SessionID: id.String()})

	if err := c.server.manager.Attach(id, c, 0); err != nil {
		log.Printf("Attach after submit failed: %v", err)
	}
}

func (c *wsClient) handleAttach(req *transport.Request) {
	id, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.sendError("", "malformed session id")
		return
	}

	var lastSeq uint64
	if req.LastSeq != nil {
		lastSeq = *req.LastSeq
	}

	// The connection is bound to at most one session; switching releases the
	// old binding first so the old event stream stops.
	c.mu.Lock()
	prev, hadSession := c.sessionID, c.hasSession
	c.mu.Unlock()
	if hadSession && prev != id {
		c.server.manager.Detach(prev, c)
	}

	if err := c.server.manager.Attach(id, c, lastSeq); err != nil {
		c.sendError(req.SessionID, "unknown session")
		return
	}

	c.mu.Lock()
	c.sessionID = id
	c.hasSession = true
	c.mu.Unlock()
}

// sendError reports a request-level problem. Session-terminal errors come
// from the manager, not from here.
func (c *wsClient) sendError(sessionID, message string) {
	c.Send(transport.Envelope{
		Type:      transport.TypeError,
		SessionID: sessionID,
		Kind:      session.KindBadRequest,
		Message:   message,
	})
}

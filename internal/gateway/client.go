package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/clawgate/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	maxMsgSize = 512 * 1024
)

// Client is one WebSocket connection. Requests dispatch concurrently so a
// blocking call (approvals.request) never stalls the connection; writes
// serialize through writeMu.
type Client struct {
	id   string
	conn *websocket.Conn
	srv  *Server

	writeMu sync.Mutex
	closed  bool

	authed bool // set once connect succeeds; immutable reads after that are fine
	authMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, srv *Server) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		srv:  srv,
	}
}

// Authenticated reports whether the connect handshake completed. A server
// with no configured token treats every client as authenticated.
func (c *Client) Authenticated() bool {
	if c.srv.cfg.Gateway.Token == "" {
		return true
	}
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authed
}

func (c *Client) setAuthenticated() {
	c.authMu.Lock()
	c.authed = true
	c.authMu.Unlock()
}

// Run reads request frames until the connection drops or ctx is done.
func (c *Client) Run(ctx context.Context) {
	c.conn.SetReadLimit(maxMsgSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("client read error", "id", c.id, "error", err)
			}
			return
		}

		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendResponse(protocol.ErrResponse("", protocol.ErrInvalidParams, "malformed request frame"))
			continue
		}

		go c.dispatch(ctx, req)
	}
}

func (c *Client) dispatch(ctx context.Context, req protocol.RequestFrame) {
	if !c.srv.rateLimiter.Allow(c.id) {
		c.sendResponse(protocol.ErrResponse(req.ID, protocol.ErrRateLimited, "too many requests"))
		return
	}

	if req.Method == protocol.MethodConnect {
		c.handleConnect(req)
		return
	}
	if !c.Authenticated() {
		c.sendResponse(protocol.ErrResponse(req.ID, protocol.ErrUnauthorized, "connect first"))
		return
	}

	resp := c.srv.router.Dispatch(ctx, req)
	c.sendResponse(resp)
}

func (c *Client) handleConnect(req protocol.RequestFrame) {
	var params struct {
		Token string `json:"token"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.sendResponse(protocol.ErrResponse(req.ID, protocol.ErrInvalidParams, "malformed connect params"))
			return
		}
	}
	if token := c.srv.cfg.Gateway.Token; token != "" && params.Token != token {
		slog.Warn("security.auth_rejected", "client_id", c.id)
		c.sendResponse(protocol.ErrResponse(req.ID, protocol.ErrUnauthorized, "invalid token"))
		return
	}
	c.setAuthenticated()
	c.sendResponse(protocol.OKResponse(req.ID, map[string]any{
		"client_id": c.id,
		"protocol":  protocol.ProtocolVersion,
	}))
}

// SendEvent pushes an event frame to the client. Unauthenticated clients
// receive nothing.
func (c *Client) SendEvent(event protocol.EventFrame) {
	if !c.Authenticated() {
		return
	}
	c.write(event)
}

func (c *Client) sendResponse(resp *protocol.ResponseFrame) {
	c.write(resp)
}

func (c *Client) write(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Warn("client write error", "id", c.id, "error", err)
	}
}

// Close shuts the connection down.
func (c *Client) Close() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}

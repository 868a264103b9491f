package ws

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"video-chess/internal/auth"
	"video-chess/internal/protocol"
)

// Client is one authenticated websocket connection. The read loop is the
// only writer of gameID; everything else reaches the client through Send.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	identity auth.Identity
	gameID   string
}

func (c *Client) UserID() string   { return c.identity.ID }
func (c *Client) UserName() string { return c.identity.Name }

// Send marshals and queues an event without blocking. It reports false
// when the connection is gone or its buffer is full; the event is dropped.
func (c *Client) Send(ev protocol.Outbound) bool {
	msg, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return safeSend(c.send, msg)
}

func (c *Client) close() {
	safeClose(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) sendError(message string) {
	c.Send(protocol.Outbound{Type: protocol.TypeError, Payload: protocol.Error{Message: message}})
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- msg:
		return true
	default:
		return false
	}
}

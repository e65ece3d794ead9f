package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ircWebSocketSubprotocol is the IRCv3 text framing: one IRC line per message.
const ircWebSocketSubprotocol = "text.ircv3.net"

// WebSocketTransport connects through an IRC WebSocket gateway, the same
// entry point browser clients such as KiwiIRC use.
type WebSocketTransport struct {
	URL         string
	Origin      string
	DialTimeout time.Duration
}

// Dial opens the WebSocket.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{ircWebSocketSubprotocol},
	}

	header := http.Header{}
	if t.Origin != "" {
		header.Set("Origin", t.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, t.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", t.URL, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

package sensor

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// wsDialer implements SocketDialer over websocket.
type wsDialer struct{}

// NewSocketDialer returns the production duplex-socket dialer.
func NewSocketDialer() SocketDialer {
	return &wsDialer{}
}

func (*wsDialer) Dial(ctx context.Context, url string) (SocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}

		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()

	return data, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

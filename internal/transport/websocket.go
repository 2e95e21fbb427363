package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// readLimit bounds one inbound frame. Full order payloads with many
// selections exceed the library default.
const readLimit = 4 << 20

// WebSocketDialer connects to the realtime endpoint with JSON frames of the
// form {"event": name, "data": {...}}.
type WebSocketDialer struct {
	URL    string
	Header http.Header
}

// Dial opens a socket for tenantID. The tenant is passed as a query
// parameter and joined again with a join frame once connected.
func (d WebSocketDialer) Dial(ctx context.Context, tenantID string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("tenantId", tenantID)
	u.RawQuery = q.Encode()

	c, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	c.SetReadLimit(readLimit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

// Read returns the next frame. Binary and undecodable frames come back
// empty and are skipped by the read loop.
func (w *wsConn) Read(ctx context.Context) (Frame, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	if typ != websocket.MessageText {
		return Frame{}, nil
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, nil
	}
	return f, nil
}

func (w *wsConn) Write(ctx context.Context, f Frame) error {
	return wsjson.Write(ctx, w.c, f)
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "shutdown")
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

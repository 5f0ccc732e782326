// Crossplay - Collaborative Crossword Event Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crossplay

package recovery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	wsproto "github.com/tomtom215/crossplay/internal/websocket"
)

// Conn is one established transport to the gateway.
type Conn interface {
	WriteFrame(f wsproto.Frame) error
	ReadFrame() (wsproto.Frame, error)
	Close() error
}

// Dialer establishes transports.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the gateway's /ws endpoint with gorilla/websocket.
type WSDialer struct {
	URL string
	// Token is sent as a bearer credential when not empty.
	Token     string
	WriteWait time.Duration
	Dialer    *websocket.Dialer
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	writeWait := d.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &wsConn{conn: conn, writeWait: writeWait}, nil
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	writeWait time.Duration
	mu        sync.Mutex
}

func (c *wsConn) WriteFrame(f wsproto.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadFrame() (wsproto.Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wsproto.Frame{}, err
	}
	var f wsproto.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return wsproto.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

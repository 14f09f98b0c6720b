package link

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an open duplex connection that is read and written in whole messages.
// ReadMessage returns io.EOF when the peer closes the stream.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(p []byte) error
	Close() error
}

// Dialer opens a Conn to address
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

const defaultReadBufferSize = 4096

// TCPDialer connects to a raw TCP peer. The stream carries no framing: every
// Read is handed on as one message.
type TCPDialer struct {
	Timeout        time.Duration
	WriteTimeout   time.Duration
	ReadBufferSize int
}

func (d TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	c, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	size := d.ReadBufferSize
	if size <= 0 {
		size = defaultReadBufferSize
	}
	return &tcpConn{conn: c, buf: make([]byte, size), writeTimeout: d.WriteTimeout}, nil
}

type tcpConn struct {
	conn         net.Conn
	buf          []byte
	writeTimeout time.Duration
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	n, err := c.conn.Read(c.buf)
	if n > 0 {
		// Deliver what arrived; a trailing error shows up on the next read.
		msg := make([]byte, n)
		copy(msg, c.buf[:n])
		return msg, nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, err
}

func (c *tcpConn) WriteMessage(p []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(p)
	return err
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

// WebsocketDialer connects to a websocket endpoint; one text frame is one message
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	return msg, nil
}

func (c *wsConn) WriteMessage(p []byte) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, p)
}

func (c *wsConn) Close() error {
	// Best effort close handshake; the peer may already be gone.
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

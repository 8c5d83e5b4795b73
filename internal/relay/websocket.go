package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReadChunk = 4096

// WebsocketDialer connects to relays over ws:// or wss://.
type WebsocketDialer struct {
	WriteTimeout time.Duration
	// ReadChunk bounds how much of a message is surfaced per Fragment.
	ReadChunk int
	Header    http.Header
}

// ValidateEndpoint accepts absolute ws:// and wss:// relay URLs.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("relay endpoint: %w", err)
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("relay endpoint %q must be a ws:// or wss:// url", endpoint)
	}
	return nil
}

func NewWebsocketDialer(cfg Config) *WebsocketDialer {
	cfg = NormalizeConfig(cfg)
	return &WebsocketDialer{WriteTimeout: cfg.WriteTimeout, ReadChunk: defaultReadChunk}
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	chunk := d.ReadChunk
	if chunk <= 0 {
		chunk = defaultReadChunk
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultConfig().WriteTimeout
	}
	return &wsConn{ws: ws, chunk: chunk, writeTimeout: writeTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	chunk        int
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Run streams each websocket message as one or more fragments so the framer
// can bound reassembly without gorilla buffering whole messages.
func (c *wsConn) Run(ctx context.Context, sink Sink) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-done:
		}
	}()

	c.ws.SetPongHandler(func(string) error {
		sink.Pong()
		return nil
	})

	buf := make([]byte, c.chunk)
	for {
		msgType, r, err := c.ws.NextReader()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			if _, err := io.Copy(io.Discard, r); err != nil {
				return err
			}
			continue
		}
		continuation := false
		for {
			n, err := io.ReadFull(r, buf)
			final := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
			if err != nil && !final {
				return err
			}
			if n > 0 || final {
				sink.Fragment(Fragment{
					Data:         append([]byte(nil), buf[:n]...),
					Continuation: continuation,
					Final:        final,
				})
				continuation = true
			}
			if final {
				break
			}
		}
	}
}

func (c *wsConn) WriteText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) WritePing() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

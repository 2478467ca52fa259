// Package transport is the execution surface adapters talk through: plain
// request/response exchanges and duplex message streams. Adapters receive a
// Bridge at construction so tests can swap in a scripted device.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

type Response struct {
	StatusCode int
	Body       []byte
}

// Stream is a duplex message channel to a device or vendor host.
type Stream interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type Bridge interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, url string, header map[string]string) (Stream, error)
}

// Auditor records raw exchanged bodies.
type Auditor interface {
	Log(target, direction string, body []byte) error
}

// StatusError is returned by DoJSON for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPBridge executes requests over HTTP(S) and streams over WebSocket.
type HTTPBridge struct {
	client  *http.Client
	dialer  *websocket.Dialer
	auditor Auditor
	logger  *logrus.Logger
}

func NewHTTPBridge(timeout time.Duration, auditor Auditor, logger *logrus.Logger) *HTTPBridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPBridge{
		client: &http.Client{Timeout: timeout},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		auditor: auditor,
		logger:  logger,
	}
}

func (b *HTTPBridge) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	b.audit(req.URL, "request", req.Body)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	b.audit(req.URL, "response", body)

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (b *HTTPBridge) Stream(ctx context.Context, url string, header map[string]string) (Stream, error) {
	h := http.Header{}
	for k, v := range header {
		h.Set(k, v)
	}

	conn, resp, err := b.dialer.DialContext(ctx, url, h)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	b.logger.Debugf("Stream opened to %s", url)

	return newWSStream(conn, url, b.auditor), nil
}

func (b *HTTPBridge) audit(target, direction string, body []byte) {
	if b.auditor == nil || len(body) == 0 {
		return
	}
	if err := b.auditor.Log(target, direction, body); err != nil {
		b.logger.Warningf("Failed to audit %s %s: %v", direction, target, err)
	}
}

type wsStream struct {
	conn    *websocket.Conn
	target  string
	auditor Auditor

	writeMu   sync.Mutex
	incoming  chan []byte
	readErr   error // set before incoming is closed
	closeOnce sync.Once
}

func newWSStream(conn *websocket.Conn, target string, auditor Auditor) *wsStream {
	s := &wsStream{
		conn:     conn,
		target:   target,
		auditor:  auditor,
		incoming: make(chan []byte, 16),
	}
	go s.readLoop()
	return s
}

func (s *wsStream) readLoop() {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = err
			close(s.incoming)
			return
		}
		if s.auditor != nil {
			_ = s.auditor.Log(s.target, "stream_in", msg)
		}
		s.incoming <- msg
	}
}

func (s *wsStream) Send(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	if s.auditor != nil {
		_ = s.auditor.Log(s.target, "stream_out", msg)
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsStream) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.incoming:
		if !ok {
			return nil, s.readErr
		}
		return msg, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

// DoJSON sends in as a JSON body (nil for none) and decodes a 2xx response
// into out (nil to ignore). Non-2xx responses yield a *StatusError.
func DoJSON(ctx context.Context, b Bridge, method, url string, header map[string]string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	h := map[string]string{"Accept": "application/json"}
	if body != nil {
		h["Content-Type"] = "application/json"
	}
	for k, v := range header {
		h[k] = v
	}

	resp, err := b.Do(ctx, &Request{Method: method, URL: url, Header: h, Body: body})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(resp.Body), 256)}
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

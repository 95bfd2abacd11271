// Package transport owns the socket connection to the hub: negotiation,
// connection establishment, record-separated framing, the inbound read loop,
// and best-effort sends. It knows nothing about event semantics; decoded
// envelopes are handed to an injected callback.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/voxhub/voxlink/internal/logging"
	"github.com/voxhub/voxlink/internal/protocol"
)

// ConnectionError reports a failed attempt to establish the socket
// connection. It always wraps the underlying cause.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NegotiateResult holds the outcome of the HTTP negotiation call.
type NegotiateResult struct {
	// ConnectionToken is exchanged for the socket connection.
	ConnectionToken string
	// Cookies set during negotiation, replayed on the socket request.
	Cookies []*http.Cookie
}

// MessageFunc receives each decoded inbound envelope, in arrival order. It
// runs on the read loop, so a slow callback delays subsequent frames.
type MessageFunc func(env *protocol.Envelope)

// CloseFunc is invoked exactly once when a connection's read loop ends,
// whether by peer close, read fault, or an explicit Close.
type CloseFunc func()

// Transport manages a single logical connection to the hub. A Transport can
// be reconnected after a close by calling Connect again; there is no
// automatic reconnection.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	onMessage MessageFunc
	onClose   CloseFunc

	running atomic.Bool

	// connMu guards conn across Connect/Close/readLoop.
	connMu sync.Mutex
	conn   *websocket.Conn

	// writeMu serializes socket writes (handshake, Send).
	writeMu sync.Mutex

	// decodeLog throttles malformed-frame logging so a misbehaving peer
	// cannot flood the log.
	decodeLog *rate.Limiter
}

// Option configures the transport.
type Option func(*Transport)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for negotiation.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// New creates a transport for the given base URL
// (e.g. "http://127.0.0.1:5384").
func New(baseURL string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.Transport(),
		decodeLog:  rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCallbacks installs the message and close callbacks. Must be called
// before Connect.
func (t *Transport) SetCallbacks(onMessage MessageFunc, onClose CloseFunc) {
	t.onMessage = onMessage
	t.onClose = onClose
}

// Running reports whether the connection is established and the read loop is
// active.
func (t *Transport) Running() bool {
	return t.running.Load()
}

// Negotiate performs the HTTP negotiation call that exchanges the base URL
// for a connection token and cookies. Failures are returned as a zero result
// with ok=false so callers can branch without error handling.
func (t *Transport) Negotiate(ctx context.Context) (NegotiateResult, bool) {
	negotiateURL := t.baseURL + "/hub/negotiate?negotiateVersion=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL, nil)
	if err != nil {
		t.logger.Error("negotiation request setup failed", "error", err)
		return NegotiateResult{}, false
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error("negotiation failed", "url", negotiateURL, "error", err)
		return NegotiateResult{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.logger.Error("negotiation rejected",
			"status", resp.StatusCode, "body", string(body))
		return NegotiateResult{}, false
	}

	var payload struct {
		ConnectionToken string `json:"connectionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.logger.Error("negotiation response decode failed", "error", err)
		return NegotiateResult{}, false
	}
	if payload.ConnectionToken == "" {
		t.logger.Error("negotiation response missing connection token")
		return NegotiateResult{}, false
	}

	return NegotiateResult{
		ConnectionToken: payload.ConnectionToken,
		Cookies:         resp.Cookies(),
	}, true
}

// SocketURL builds the websocket URL for the given connection token,
// rewriting the base URL's scheme to ws(s).
func (t *Transport) SocketURL(token string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/hub"
	u.RawQuery = url.Values{"id": {token}}.Encode()
	return u.String(), nil
}

// cookieHeader flattens cookies into a single Cookie header value
// ("k=v; k=v").
func cookieHeader(cookies []*http.Cookie) string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// Connect dials the socket, sends the protocol handshake, and starts the
// read loop. On any failure the transport is left not running; there is no
// partial-connected state.
func (t *Transport) Connect(ctx context.Context, token string, cookies []*http.Cookie) error {
	socketURL, err := t.SocketURL(token)
	if err != nil {
		return &ConnectionError{URL: t.baseURL, Err: err}
	}

	header := http.Header{}
	if len(cookies) > 0 {
		header.Set("Cookie", cookieHeader(cookies))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return &ConnectionError{URL: socketURL, Err: err}
	}

	// Handshake must go out before anything else on the socket.
	if err := t.writeHandshake(conn); err != nil {
		conn.Close()
		return &ConnectionError{URL: socketURL, Err: err}
	}

	once := new(sync.Once)
	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.running.Store(true)

	t.logger.Info("connected", "url", socketURL)
	go t.readLoop(conn, once)
	return nil
}

func (t *Transport) writeHandshake(conn *websocket.Conn) error {
	data, err := json.Marshal(protocol.DefaultHandshake())
	if err != nil {
		return fmt.Errorf("marshal handshake: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, append(data, protocol.RecordSeparator)); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return nil
}

// Send serializes the envelope and writes it to the socket. Delivery is best
// effort: when not connected it logs a warning and returns, and a write
// failure downgrades the transport to not-running instead of surfacing an
// error.
func (t *Transport) Send(env *protocol.Envelope) {
	if !t.running.Load() {
		t.logger.Warn("send skipped: not connected", "target", env.Target)
		return
	}

	frame, err := env.Marshal()
	if err != nil {
		t.logger.Error("envelope marshal failed", "error", err)
		return
	}

	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		t.logger.Warn("send skipped: not connected", "target", env.Target)
		return
	}

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		t.logger.Error("socket write failed", "error", err)
		t.running.Store(false)
	}
}

// Close shuts the connection down. It is idempotent and safe to call before
// any Connect; it always leaves the transport not running.
func (t *Transport) Close() error {
	t.running.Store(false)

	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop processes inbound socket reads until a read fault or peer close.
// A single read may contain several record-separated sub-messages; each is
// decoded and dispatched in order.
func (t *Transport) readLoop(conn *websocket.Conn, once *sync.Once) {
	defer func() {
		// Only the loop that still owns t.conn may downgrade the transport:
		// a stale loop from an earlier connection must not clobber the state
		// of one established after it.
		t.connMu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.running.Store(false)
		}
		t.connMu.Unlock()
		conn.Close()
		once.Do(func() {
			t.logger.Info("connection closed")
			if t.onClose != nil {
				t.onClose()
			}
		})
	}()

	for t.running.Load() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if t.running.Load() {
				t.logger.Warn("socket read ended", "error", err)
			}
			return
		}
		t.dispatch(data)
	}
}

// dispatch splits a socket read into frames and invokes the message callback
// for each decodable one. A malformed sub-message is logged and skipped; it
// never aborts the loop.
func (t *Transport) dispatch(data []byte) {
	for _, raw := range bytes.Split(data, []byte{protocol.RecordSeparator}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			if t.decodeLog.Allow() {
				t.logger.Error("frame decode failed", "error", err, "frame", string(raw))
			}
			continue
		}
		if t.onMessage != nil {
			t.onMessage(&env)
		}
	}
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/voxhub/voxlink/internal/logging"
	"github.com/voxhub/voxlink/internal/protocol"
	"github.com/voxhub/voxlink/internal/transport"
)

// DefaultClientVersion is the protocol version string advertised to the hub.
const DefaultClientVersion = "1.2.1"

// benignSessionExists marks the server error raised when resuming a chat the
// hub already has a session for. It is a normal race during resumption and
// is suppressed rather than surfaced.
const benignSessionExists = "Chat session already exists"

// Conn is the transport surface the client depends on. *transport.Transport
// satisfies it; tests substitute a recording fake.
type Conn interface {
	Negotiate(ctx context.Context) (transport.NegotiateResult, bool)
	Connect(ctx context.Context, token string, cookies []*http.Cookie) error
	Send(env *protocol.Envelope)
	Running() bool
	Close() error
	SetCallbacks(onMessage transport.MessageFunc, onClose transport.CloseFunc)
}

// SessionState tracks which chat/session this client is authoritative for,
// plus the conversational flags derived from the inbound event stream. It is
// mutated only on the read-loop dispatch path.
type SessionState struct {
	// SessionID is the pinned session, target of outgoing commands.
	SessionID string
	// ActiveChatID is the pinned chat containing SessionID.
	ActiveChatID string
	// IsThinking is true between replyGenerating/replyStart and replyEnd.
	IsThinking bool
	// IsSpeaking is true between speechPlaybackStart and
	// speechPlaybackComplete or interruptSpeech.
	IsSpeaking bool
	// LastMessageID is the most recent message id observed, last write wins.
	LastMessageID string
}

// Client is the protocol engine: it converts inbound frames into typed
// events, owns the session-pinning state machine, and exposes the outbound
// command surface. One Client manages one logical connection.
type Client struct {
	conn     Conn
	registry *Registry
	logger   *slog.Logger

	appLabel      string
	clientVersion string

	runCtx    context.Context
	runCancel context.CancelFunc

	mu         sync.RWMutex
	state      SessionState
	registered bool
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAppLabel sets the label sent in the registerApp command.
func WithAppLabel(label string) Option {
	return func(c *Client) {
		c.appLabel = label
	}
}

// WithClientVersion overrides the advertised protocol client version.
func WithClientVersion(version string) Option {
	return func(c *Client) {
		c.clientVersion = version
	}
}

// withConn substitutes the transport, for tests.
func withConn(conn Conn) Option {
	return func(c *Client) {
		c.conn = conn
	}
}

// New creates a client for the hub at baseURL
// (e.g. "http://127.0.0.1:5384").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		logger:        logging.Client(),
		appLabel:      "voxlink",
		clientVersion: DefaultClientVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.conn == nil {
		c.conn = transport.New(baseURL)
	}
	c.registry = NewRegistry(c.logger)
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.conn.SetCallbacks(c.handleEnvelope, c.handleClose)
	return c
}

// On registers a handler for an event name. See Registry.On.
func (c *Client) On(name string, h Handler) {
	c.registry.On(name, h)
}

// Event starts a builder-style registration; multiple handlers layer on one
// event name without overwriting prior ones.
func (c *Client) Event(name string) *Subscription {
	return c.registry.Event(name)
}

// Running reports whether the underlying connection is established.
func (c *Client) Running() bool {
	return c.conn.Running()
}

// State returns a snapshot of the session state.
func (c *Client) State() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID returns the pinned session id, or "" when unpinned.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.SessionID
}

// Negotiate performs the HTTP negotiation call. A failed negotiation is a
// zero result with ok=false, never an error.
func (c *Client) Negotiate(ctx context.Context) (transport.NegotiateResult, bool) {
	return c.conn.Negotiate(ctx)
}

// Connect establishes the socket connection and sends the authenticate
// command with this client's fixed scope and capability declaration. A
// reconnect after Close re-arms both the registration latch and the handler
// context.
func (c *Client) Connect(ctx context.Context, token string, cookies []*http.Cookie) error {
	c.mu.Lock()
	c.registered = false
	if c.runCtx.Err() != nil {
		c.runCtx, c.runCancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	if err := c.conn.Connect(ctx, token, cookies); err != nil {
		return err
	}
	c.Authenticate()
	return nil
}

// Dial negotiates and connects in one call.
func (c *Client) Dial(ctx context.Context) error {
	result, ok := c.Negotiate(ctx)
	if !ok {
		return fmt.Errorf("negotiation with hub failed")
	}
	return c.Connect(ctx, result.ConnectionToken, result.Cookies)
}

// Close shuts the connection down. Idempotent, safe before Connect.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.mu.RLock()
	cancel := c.runCancel
	c.mu.RUnlock()
	cancel()
	return err
}

// emitCtx returns the context handlers run under for the current connection.
func (c *Client) emitCtx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runCtx
}

// handleEnvelope is the inbound dispatch entry point, invoked by the
// transport for every decoded frame, in arrival order.
func (c *Client) handleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.FramePing:
		return

	case protocol.FrameClose:
		c.logger.Warn("close frame received from hub")
		c.conn.Close()
		return

	case protocol.FrameCompletion:
		c.handleCompletion(env)
		return

	case protocol.FrameInvocation:
		if env.Target != "ReceiveMessage" {
			return
		}
		payload, ok := env.FirstArgument()
		if !ok {
			return
		}
		if env.InvocationID != "" {
			payload["invocationId"] = env.InvocationID
		}
		c.processEvent(payload)

	default:
		// Unrecognized frame types are ignored, never fatal.
	}
}

// handleCompletion surfaces completion frames as observational events. There
// is no blocking request/response pairing: the invocation id only tags the
// event.
func (c *Client) handleCompletion(env *protocol.Envelope) {
	data := protocol.Payload{
		"$type":        "completion",
		"invocationId": env.InvocationID,
	}
	if env.Error != "" {
		data["error"] = env.Error
	}
	if len(env.Result) > 0 {
		var result any
		if json.Unmarshal(env.Result, &result) == nil {
			data["result"] = result
		}
	}

	if env.Error != "" {
		c.logger.Error("invocation failed",
			"invocation_id", env.InvocationID, "error", env.Error)
		c.registry.Emit(c.emitCtx(), protocol.EventError, data)
	} else {
		c.logger.Debug("invocation completed", "invocation_id", env.InvocationID)
		c.registry.Emit(c.emitCtx(), protocol.EventCompletion, data)
	}
}

// lastMessageKinds are the payload kinds whose message id updates
// SessionState.LastMessageID.
var lastMessageKinds = map[protocol.Kind]bool{
	protocol.KindMessage:             true,
	protocol.KindUpdate:              true,
	protocol.KindReplyStart:          true,
	protocol.KindSpeechPlaybackStart: true,
}

// processEvent applies state transitions for one inbound payload, then emits
// the generic event named by its "$type" so handlers observe post-update
// state.
func (c *Client) processEvent(p protocol.Payload) {
	eventType := p.Type()
	if eventType == "" {
		return
	}
	kind := protocol.KindOf(eventType)

	if id := p.MessageID(); id != "" && lastMessageKinds[kind] {
		c.mu.Lock()
		c.state.LastMessageID = id
		c.mu.Unlock()
	}

	c.logEvent(eventType, kind, p)

	switch kind {
	case protocol.KindWelcome:
		c.handleWelcome()

	case protocol.KindChatsSessionsUpdated:
		c.handleSessionsUpdated(p)

	case protocol.KindChatStarted:
		c.handleChatStarted(p)

	case protocol.KindError:
		if strings.Contains(p.String("message"), benignSessionExists) {
			// Normal race during resumption; suppressed entirely, so
			// handlers never see it as an error event.
			c.logger.Info("ignoring benign error", "message", p.String("message"))
			return
		}
		c.logger.Error("hub reported error", "message", p.String("message"))

	case protocol.KindReplyGenerating, protocol.KindReplyStart:
		c.setThinking(true)

	case protocol.KindReplyEnd:
		c.setThinking(false)

	case protocol.KindSpeechPlaybackStart:
		c.setSpeaking(true)

	case protocol.KindSpeechPlaybackComplete:
		c.setSpeaking(false)

	case protocol.KindInterruptSpeech:
		c.mu.Lock()
		c.state.IsSpeaking = false
		c.state.IsThinking = false
		c.mu.Unlock()
	}

	c.registry.Emit(c.emitCtx(), eventType, p)
}

func (c *Client) logEvent(eventType string, kind protocol.Kind, p protocol.Payload) {
	if kind == protocol.KindMessage || kind == protocol.KindUpdate {
		sender := p.String("senderType")
		if sender == "" {
			sender = p.String("role")
		}
		text := p.String("text")
		if len(text) > 100 {
			text = text[:100]
		}
		c.logger.Info("hub event", "type", eventType, "sender", sender, "text", text)
		return
	}
	c.logger.Debug("hub event", "type", eventType)
}

// handleWelcome registers the application, once per connection.
func (c *Client) handleWelcome() {
	c.mu.Lock()
	already := c.registered
	c.registered = true
	c.mu.Unlock()
	if already {
		return
	}
	c.RegisterApp(c.appLabel)
}

// handleSessionsUpdated resolves the pin from the active session list. Once
// a chat is pinned, this event never changes the pin and never re-derives
// the session id: adopting another entry here could hijack a session that
// belongs to a different connected client.
func (c *Client) handleSessionsUpdated(p protocol.Payload) {
	sessions := p.Sessions()
	if len(sessions) == 0 {
		return
	}

	c.mu.RLock()
	pinned := c.state.ActiveChatID
	c.mu.RUnlock()

	if pinned != "" {
		for _, s := range sessions {
			if s.String("chatId") == pinned {
				return
			}
		}
		c.logger.Warn("pinned chat no longer in active list", "chat_id", pinned)
		return
	}

	first := sessions[0]
	chatID := first.String("chatId")
	sessionID := first.String("sessionId")

	c.mu.Lock()
	c.state.ActiveChatID = chatID
	c.state.SessionID = sessionID
	c.mu.Unlock()

	logging.WithSession(c.logger, sessionID, chatID).Info("pinned to chat")
	c.SubscribeToChat(sessionID, chatID)
	c.emitReady(sessionID)
}

// handleChatStarted adopts the new chat unconditionally: the event is either
// a direct reply to a command this client issued, or a genuinely new chat.
func (c *Client) handleChatStarted(p protocol.Payload) {
	sessionID := p.String("sessionId")
	chatID := p.String("chatId")

	c.mu.Lock()
	c.state.SessionID = sessionID
	c.state.ActiveChatID = chatID
	c.mu.Unlock()

	logging.WithSession(c.logger, sessionID, chatID).Info("chat started")
	c.emitReady(sessionID)
}

func (c *Client) emitReady(sessionID string) {
	c.registry.Emit(c.emitCtx(), protocol.EventReady, protocol.Payload{
		"$type":     protocol.EventReady,
		"sessionId": sessionID,
	})
}

func (c *Client) setThinking(v bool) {
	c.mu.Lock()
	c.state.IsThinking = v
	c.mu.Unlock()
}

func (c *Client) setSpeaking(v bool) {
	c.mu.Lock()
	c.state.IsSpeaking = v
	c.mu.Unlock()
}

// handleClose surfaces the transport's close callback as a "close" event.
func (c *Client) handleClose() {
	c.registry.Emit(c.emitCtx(), protocol.EventClose, protocol.Payload{
		"$type": protocol.EventClose,
	})
}

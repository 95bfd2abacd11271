package client

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/voxhub/voxlink/internal/protocol"
	"github.com/voxhub/voxlink/internal/transport"
)

// fakeConn records outbound envelopes and lets tests inject inbound frames
// through the callbacks the client registers.
type fakeConn struct {
	mu        sync.Mutex
	sent      []*protocol.Envelope
	onMessage transport.MessageFunc
	onClose   transport.CloseFunc
	running   bool
	negotiate bool
	closes    int
}

func (f *fakeConn) Negotiate(ctx context.Context) (transport.NegotiateResult, bool) {
	if !f.negotiate {
		return transport.NegotiateResult{}, false
	}
	return transport.NegotiateResult{ConnectionToken: "tok"}, true
}

func (f *fakeConn) Connect(ctx context.Context, token string, cookies []*http.Cookie) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Send(env *protocol.Envelope) {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
}

func (f *fakeConn) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.running = false
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) SetCallbacks(onMessage transport.MessageFunc, onClose transport.CloseFunc) {
	f.onMessage = onMessage
	f.onClose = onClose
}

// sentCommands returns the "$type" of every envelope sent so far.
func (f *fakeConn) sentCommands(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.sent))
	for _, env := range f.sent {
		p, ok := env.FirstArgument()
		if !ok {
			t.Fatalf("sent envelope has no decodable argument: %+v", env)
		}
		types = append(types, p.Type())
	}
	return types
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestClient(t *testing.T) (*Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{negotiate: true}
	c := New("http://test", withConn(conn))
	return c, conn
}

// deliver injects a server event the way the transport would.
func deliver(conn *fakeConn, payload protocol.Payload) {
	raw, _ := json.Marshal(payload)
	conn.onMessage(&protocol.Envelope{
		Type:      protocol.FrameInvocation,
		Target:    "ReceiveMessage",
		Arguments: []json.RawMessage{raw},
	})
}

func sessionsUpdated(entries ...map[string]any) protocol.Payload {
	sessions := make([]any, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, e)
	}
	return protocol.Payload{"$type": "chatsSessionsUpdated", "sessions": sessions}
}

func TestWelcomeRegistersOnce(t *testing.T) {
	c, conn := newTestClient(t)
	_ = c

	deliver(conn, protocol.Payload{"$type": "welcome"})
	deliver(conn, protocol.Payload{"$type": "welcome"})

	var registers int
	for _, cmd := range conn.sentCommands(t) {
		if cmd == "registerApp" {
			registers++
		}
	}
	if registers != 1 {
		t.Errorf("registerApp sent %d times, want 1", registers)
	}
}

func TestPinFirstSession(t *testing.T) {
	c, conn := newTestClient(t)

	var readySession string
	c.On(protocol.EventReady, func(ctx context.Context, data protocol.Payload) error {
		readySession = data.String("sessionId")
		return nil
	})

	deliver(conn, sessionsUpdated(
		map[string]any{"sessionId": "sA", "chatId": "cA"},
		map[string]any{"sessionId": "sB", "chatId": "cB"},
	))

	state := c.State()
	if state.SessionID != "sA" || state.ActiveChatID != "cA" {
		t.Errorf("pinned (%q, %q), want (sA, cA)", state.SessionID, state.ActiveChatID)
	}
	if readySession != "sA" {
		t.Errorf("ready sessionId = %q, want sA", readySession)
	}

	cmds := conn.sentCommands(t)
	if len(cmds) != 1 || cmds[0] != "subscribeToChat" {
		t.Fatalf("sent = %v, want [subscribeToChat]", cmds)
	}
}

func TestPinnedChatNeverHijacked(t *testing.T) {
	c, conn := newTestClient(t)

	var readies int
	c.On(protocol.EventReady, func(ctx context.Context, data protocol.Payload) error {
		readies++
		return nil
	})

	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))
	baseline := conn.sentCount()

	// Pinned chat still present, listed with a different session id: the pin
	// and the session id must not change.
	deliver(conn, sessionsUpdated(
		map[string]any{"sessionId": "sB", "chatId": "cB"},
		map[string]any{"sessionId": "sX", "chatId": "cA"},
	))

	state := c.State()
	if state.SessionID != "sA" || state.ActiveChatID != "cA" {
		t.Errorf("pin changed to (%q, %q), want (sA, cA)", state.SessionID, state.ActiveChatID)
	}
	if conn.sentCount() != baseline {
		t.Errorf("commands sent on a no-op update: %v", conn.sentCommands(t))
	}

	// Pinned chat absent from the list: still no adoption.
	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sB", "chatId": "cB"}))

	state = c.State()
	if state.SessionID != "sA" || state.ActiveChatID != "cA" {
		t.Errorf("pin changed to (%q, %q) after exclusion, want (sA, cA)", state.SessionID, state.ActiveChatID)
	}
	if readies != 1 {
		t.Errorf("ready emitted %d times, want 1", readies)
	}
}

func TestEmptySessionListIgnored(t *testing.T) {
	c, conn := newTestClient(t)

	deliver(conn, sessionsUpdated())

	if state := c.State(); state.SessionID != "" || state.ActiveChatID != "" {
		t.Errorf("state = %+v, want unpinned", state)
	}
	if conn.sentCount() != 0 {
		t.Errorf("commands sent on empty session list: %v", conn.sentCommands(t))
	}
}

func TestChatStartedRepins(t *testing.T) {
	c, conn := newTestClient(t)

	var readies []string
	c.On(protocol.EventReady, func(ctx context.Context, data protocol.Payload) error {
		readies = append(readies, data.String("sessionId"))
		return nil
	})

	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))
	deliver(conn, protocol.Payload{"$type": "chatStarted", "sessionId": "sNew", "chatId": "cNew"})

	state := c.State()
	if state.SessionID != "sNew" || state.ActiveChatID != "cNew" {
		t.Errorf("pin = (%q, %q), want (sNew, cNew)", state.SessionID, state.ActiveChatID)
	}
	if len(readies) != 2 || readies[1] != "sNew" {
		t.Errorf("ready emissions = %v, want [sA sNew]", readies)
	}
}

func TestThinkingSpeakingFlags(t *testing.T) {
	tests := []struct {
		name         string
		events       []string
		wantThinking bool
		wantSpeaking bool
	}{
		{"replyGenerating sets thinking", []string{"replyGenerating"}, true, false},
		{"replyStart sets thinking", []string{"replyStart"}, true, false},
		{"replyEnd clears thinking", []string{"replyGenerating", "replyEnd"}, false, false},
		{"speechPlaybackStart sets speaking", []string{"speechPlaybackStart"}, false, true},
		{"speechPlaybackComplete clears speaking", []string{"speechPlaybackStart", "speechPlaybackComplete"}, false, false},
		{"interruptSpeech clears both", []string{"replyStart", "speechPlaybackStart", "interruptSpeech"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn := newTestClient(t)
			for _, evt := range tt.events {
				deliver(conn, protocol.Payload{"$type": evt})
			}
			state := c.State()
			if state.IsThinking != tt.wantThinking {
				t.Errorf("IsThinking = %v, want %v", state.IsThinking, tt.wantThinking)
			}
			if state.IsSpeaking != tt.wantSpeaking {
				t.Errorf("IsSpeaking = %v, want %v", state.IsSpeaking, tt.wantSpeaking)
			}
		})
	}
}

func TestLastMessageID(t *testing.T) {
	c, conn := newTestClient(t)

	deliver(conn, protocol.Payload{"$type": "message", "messageId": "m1"})
	if got := c.State().LastMessageID; got != "m1" {
		t.Errorf("LastMessageID = %q, want m1", got)
	}

	// "id" is the fallback field.
	deliver(conn, protocol.Payload{"$type": "update", "id": "m2"})
	if got := c.State().LastMessageID; got != "m2" {
		t.Errorf("LastMessageID = %q, want m2", got)
	}

	// Kinds outside the message family never update it.
	deliver(conn, protocol.Payload{"$type": "replyChunk", "messageId": "m3"})
	if got := c.State().LastMessageID; got != "m2" {
		t.Errorf("LastMessageID = %q after replyChunk, want m2", got)
	}
}

func TestCommandsSkippedWhenUnpinned(t *testing.T) {
	c, conn := newTestClient(t)

	calls := []struct {
		name string
		call func() bool
	}{
		{"SendText", func() bool { return c.SendText("hi", nil) }},
		{"Interrupt", func() bool { return c.Interrupt("") }},
		{"Pause", func() bool { return c.Pause("", true) }},
		{"Retry", func() bool { return c.Retry("") }},
		{"Revert", func() bool { return c.Revert("") }},
		{"TypingStart", func() bool { return c.TypingStart("") }},
		{"TypingEnd", func() bool { return c.TypingEnd("") }},
		{"AddChatParticipant", func() bool { return c.AddChatParticipant("char1", "") }},
		{"RemoveChatParticipant", func() bool { return c.RemoveChatParticipant("char1", "") }},
		{"UpdateMessage", func() bool { return c.UpdateMessage("m1", "text", "") }},
		{"DeleteMessage", func() bool { return c.DeleteMessage("m1", "") }},
		{"SpeechPlaybackStart", func() bool { return c.SpeechPlaybackStart("", "") }},
		{"SpeechPlaybackComplete", func() bool { return c.SpeechPlaybackComplete("", "") }},
		{"CharacterSpeechRequest", func() bool { return c.CharacterSpeechRequest("char1", "hi", "") }},
		{"RequestSuggestions", func() bool { return c.RequestSuggestions("") }},
		{"TriggerAction", func() bool { return c.TriggerAction("wave", nil, "") }},
		{"Inspect", func() bool { return c.Inspect("", true) }},
		{"InspectAudioInput", func() bool { return c.InspectAudioInput(true, "") }},
		{"UpdateContext", func() bool { return c.UpdateContext("", "key", ContextUpdate{}) }},
	}
	for _, tc := range calls {
		t.Run(tc.name, func(t *testing.T) {
			if tc.call() {
				t.Errorf("%s returned true with no session pinned", tc.name)
			}
		})
	}
	if conn.sentCount() != 0 {
		t.Errorf("unpinned commands reached the wire: %v", conn.sentCommands(t))
	}
}

func TestCommandsUsePinnedSession(t *testing.T) {
	c, conn := newTestClient(t)

	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))
	baseline := conn.sentCount()

	if !c.Interrupt("") {
		t.Fatal("Interrupt returned false with a pinned session")
	}

	conn.mu.Lock()
	env := conn.sent[baseline]
	conn.mu.Unlock()
	p, ok := env.FirstArgument()
	if !ok {
		t.Fatal("sent envelope has no argument")
	}
	if p.String("sessionId") != "sA" {
		t.Errorf("sessionId = %q, want sA (pinned)", p.String("sessionId"))
	}

	// Explicit session overrides the pin.
	c.Interrupt("sOther")
	conn.mu.Lock()
	env = conn.sent[baseline+1]
	conn.mu.Unlock()
	p, _ = env.FirstArgument()
	if p.String("sessionId") != "sOther" {
		t.Errorf("sessionId = %q, want sOther (explicit)", p.String("sessionId"))
	}
}

func TestSendTextDefaults(t *testing.T) {
	c, conn := newTestClient(t)
	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))
	baseline := conn.sentCount()

	c.SendText("hello", nil)

	conn.mu.Lock()
	env := conn.sent[baseline]
	conn.mu.Unlock()
	p, _ := env.FirstArgument()
	if p.Type() != "send" {
		t.Fatalf("$type = %q, want send", p.Type())
	}
	for _, key := range []string{"doReply", "doUserActionInference", "doCharacterActionInference"} {
		if v, _ := p[key].(bool); !v {
			t.Errorf("%s = %v, want true by default", key, p[key])
		}
	}
}

func TestSpeechPlaybackFallsBackToLastMessage(t *testing.T) {
	c, conn := newTestClient(t)
	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))
	deliver(conn, protocol.Payload{"$type": "message", "messageId": "m9"})
	baseline := conn.sentCount()

	if !c.SpeechPlaybackComplete("", "") {
		t.Fatal("SpeechPlaybackComplete returned false")
	}

	conn.mu.Lock()
	env := conn.sent[baseline]
	conn.mu.Unlock()
	p, _ := env.FirstArgument()
	if p.String("messageId") != "m9" {
		t.Errorf("messageId = %q, want m9 (last observed)", p.String("messageId"))
	}
}

func TestCompletionEvents(t *testing.T) {
	c, conn := newTestClient(t)

	var errorEvents, completions []protocol.Payload
	c.On(protocol.EventError, func(ctx context.Context, data protocol.Payload) error {
		errorEvents = append(errorEvents, data)
		return nil
	})
	c.On(protocol.EventCompletion, func(ctx context.Context, data protocol.Payload) error {
		completions = append(completions, data)
		return nil
	})

	conn.onMessage(&protocol.Envelope{
		Type:         protocol.FrameCompletion,
		InvocationID: "inv-ok",
		Result:       json.RawMessage(`{"done":true}`),
	})
	conn.onMessage(&protocol.Envelope{
		Type:         protocol.FrameCompletion,
		InvocationID: "inv-bad",
		Error:        "something broke",
	})

	if len(completions) != 1 || completions[0].String("invocationId") != "inv-ok" {
		t.Errorf("completion events = %v, want one for inv-ok", completions)
	}
	if len(errorEvents) != 1 || errorEvents[0].String("invocationId") != "inv-bad" {
		t.Errorf("error events = %v, want one for inv-bad", errorEvents)
	}
	if errorEvents[0].String("error") != "something broke" {
		t.Errorf("error = %q, want %q", errorEvents[0].String("error"), "something broke")
	}
}

func TestBenignErrorSuppressed(t *testing.T) {
	c, conn := newTestClient(t)

	var errors []string
	c.On("error", func(ctx context.Context, data protocol.Payload) error {
		errors = append(errors, data.String("message"))
		return nil
	})

	deliver(conn, protocol.Payload{"$type": "error", "message": "Chat session already exists"})
	deliver(conn, protocol.Payload{"$type": "error", "message": "actual failure"})

	if len(errors) != 1 || errors[0] != "actual failure" {
		t.Errorf("surfaced errors = %v, want [actual failure]", errors)
	}
}

func TestPingAndUnknownFramesIgnored(t *testing.T) {
	c, conn := newTestClient(t)

	var events int
	c.On("welcome", func(ctx context.Context, data protocol.Payload) error {
		events++
		return nil
	})

	conn.onMessage(&protocol.Envelope{Type: protocol.FramePing})
	conn.onMessage(&protocol.Envelope{Type: 99})
	conn.onMessage(&protocol.Envelope{Type: protocol.FrameInvocation, Target: "SomethingElse"})
	conn.onMessage(&protocol.Envelope{Type: protocol.FrameInvocation, Target: "ReceiveMessage"})
	deliver(conn, protocol.Payload{"other": "no discriminator"})

	if events != 0 {
		t.Errorf("events fired for ignorable frames: %d", events)
	}
	if conn.closes != 0 {
		t.Errorf("connection closed %d times, want 0", conn.closes)
	}
}

func TestCloseFrameClosesConnection(t *testing.T) {
	c, conn := newTestClient(t)
	_ = c

	conn.onMessage(&protocol.Envelope{Type: protocol.FrameClose})
	if conn.closes != 1 {
		t.Errorf("Close called %d times after close frame, want 1", conn.closes)
	}
}

func TestTransportCloseEmitsEvent(t *testing.T) {
	c, conn := newTestClient(t)

	var closes int
	c.On(protocol.EventClose, func(ctx context.Context, data protocol.Payload) error {
		closes++
		return nil
	})

	conn.onClose()
	if closes != 1 {
		t.Errorf("close event fired %d times, want 1", closes)
	}
}

func TestClientSendObservation(t *testing.T) {
	c, conn := newTestClient(t)
	_ = conn

	var observed []protocol.Payload
	c.On(protocol.EventClientSend, func(ctx context.Context, data protocol.Payload) error {
		observed = append(observed, data)
		return nil
	})

	c.LoadCharactersList()

	if len(observed) != 1 {
		t.Fatalf("client_send fired %d times, want 1", len(observed))
	}
	if observed[0].Type() != "loadCharactersList" {
		t.Errorf("$type = %q, want loadCharactersList", observed[0].Type())
	}
	if observed[0].String("invocationId") == "" {
		t.Error("client_send payload missing invocationId")
	}
}

func TestHandlerFaultDoesNotStallDispatch(t *testing.T) {
	c, conn := newTestClient(t)

	var welcomes int
	c.On("welcome", func(ctx context.Context, data protocol.Payload) error {
		welcomes++
		panic("boom")
	})

	deliver(conn, protocol.Payload{"$type": "welcome"})
	deliver(conn, protocol.Payload{"$type": "welcome"})

	if welcomes != 2 {
		t.Errorf("handler invoked %d times, want 2 (panic must not stall dispatch)", welcomes)
	}
}

func TestConnectAuthenticates(t *testing.T) {
	c, conn := newTestClient(t)

	if err := c.Connect(context.Background(), "tok", nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	cmds := conn.sentCommands(t)
	if len(cmds) != 1 || cmds[0] != "authenticate" {
		t.Fatalf("sent = %v, want [authenticate]", cmds)
	}

	// A reconnect re-arms the one-shot welcome registration.
	deliver(conn, protocol.Payload{"$type": "welcome"})
	if err := c.Connect(context.Background(), "tok2", nil); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	deliver(conn, protocol.Payload{"$type": "welcome"})

	var registers int
	for _, cmd := range conn.sentCommands(t) {
		if cmd == "registerApp" {
			registers++
		}
	}
	if registers != 2 {
		t.Errorf("registerApp sent %d times across two connections, want 2", registers)
	}
}

func TestNullArgumentInvocationIgnored(t *testing.T) {
	c, conn := newTestClient(t)

	var events int
	c.On("welcome", func(ctx context.Context, data protocol.Payload) error {
		events++
		return nil
	})

	// A null first argument decodes without error; it must be dropped, not
	// dispatched, and must never panic the read path.
	conn.onMessage(&protocol.Envelope{
		Type:         protocol.FrameInvocation,
		Target:       "ReceiveMessage",
		InvocationID: "inv-1",
		Arguments:    []json.RawMessage{json.RawMessage(`null`)},
	})

	if events != 0 {
		t.Errorf("events fired for null argument: %d", events)
	}

	// Dispatch still works for the next valid frame.
	deliver(conn, protocol.Payload{"$type": "welcome"})
	if events != 1 {
		t.Errorf("valid frame after null argument dispatched %d times, want 1", events)
	}
}

func TestReconnectRearmsHandlerContext(t *testing.T) {
	c, conn := newTestClient(t)

	ctxErrs := make([]error, 0, 1)
	c.On("welcome", func(ctx context.Context, data protocol.Payload) error {
		ctxErrs = append(ctxErrs, ctx.Err())
		return nil
	})

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Connect(context.Background(), "tok", nil); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	deliver(conn, protocol.Payload{"$type": "welcome"})

	if len(ctxErrs) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(ctxErrs))
	}
	if ctxErrs[0] != nil {
		t.Errorf("handler context cancelled after reconnect: %v", ctxErrs[0])
	}
}

func TestPinLogsCarrySessionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	conn := &fakeConn{negotiate: true}
	New("http://test", withConn(conn), WithLogger(logger))

	deliver(conn, sessionsUpdated(map[string]any{"sessionId": "sA", "chatId": "cA"}))

	output := buf.String()
	if !strings.Contains(output, "session_id=sA") || !strings.Contains(output, "chat_id=cA") {
		t.Errorf("pin log missing session context: %s", output)
	}

	buf.Reset()
	deliver(conn, protocol.Payload{"$type": "chatStarted", "sessionId": "sN", "chatId": "cN"})
	output = buf.String()
	if !strings.Contains(output, "session_id=sN") || !strings.Contains(output, "chat_id=cN") {
		t.Errorf("chat started log missing session context: %s", output)
	}
}

func TestDialFailsWhenNegotiateFails(t *testing.T) {
	conn := &fakeConn{negotiate: false}
	c := New("http://test", withConn(conn))

	if err := c.Dial(context.Background()); err == nil {
		t.Error("Dial succeeded despite failed negotiation")
	}
}

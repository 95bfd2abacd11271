package protocol

import "testing"

func TestPayloadString(t *testing.T) {
	p := Payload{"text": "hello", "count": float64(3)}

	if got := p.String("text"); got != "hello" {
		t.Errorf("String(text) = %q, want %q", got, "hello")
	}
	if got := p.String("count"); got != "" {
		t.Errorf("String(count) = %q, want empty for non-string", got)
	}
	if got := p.String("missing"); got != "" {
		t.Errorf("String(missing) = %q, want empty", got)
	}
}

func TestPayloadMessageID(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{"messageId field", Payload{"messageId": "m1"}, "m1"},
		{"id fallback", Payload{"id": "m2"}, "m2"},
		{"messageId wins over id", Payload{"messageId": "m1", "id": "m2"}, "m1"},
		{"neither present", Payload{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.MessageID(); got != tt.want {
				t.Errorf("MessageID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPayloadSessions(t *testing.T) {
	p := Payload{
		"sessions": []any{
			map[string]any{"sessionId": "s1", "chatId": "c1"},
			"not an object",
			map[string]any{"sessionId": "s2"},
		},
	}

	sessions := p.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("len(Sessions()) = %d, want 2", len(sessions))
	}
	if sessions[0].String("sessionId") != "s1" {
		t.Errorf("sessions[0].sessionId = %q, want s1", sessions[0].String("sessionId"))
	}
	if sessions[1].String("sessionId") != "s2" {
		t.Errorf("sessions[1].sessionId = %q, want s2", sessions[1].String("sessionId"))
	}

	if got := (Payload{}).Sessions(); got != nil {
		t.Errorf("Sessions() on empty payload = %v, want nil", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		eventType string
		want      Kind
	}{
		{"welcome", KindWelcome},
		{"chatsSessionsUpdated", KindChatsSessionsUpdated},
		{"chatStarted", KindChatStarted},
		{"replyStart", KindReplyStart},
		{"interruptSpeech", KindInterruptSpeech},
		{"somethingNew", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := KindOf(tt.eventType); got != tt.want {
				t.Errorf("KindOf(%q) = %d, want %d", tt.eventType, got, tt.want)
			}
		})
	}
}

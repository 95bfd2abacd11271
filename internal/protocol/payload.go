package protocol

// Payload is a loosely-typed server event. The shape depends on the "$type"
// discriminator; fields the client does not know about are preserved and
// passed through to event handlers untouched.
type Payload map[string]any

// Type returns the "$type" discriminator, or "" when absent.
func (p Payload) Type() string {
	return p.String("$type")
}

// String returns the named field as a string, or "" when absent or of
// another type.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// MessageID returns the payload's message identifier, checking "messageId"
// first and falling back to "id".
func (p Payload) MessageID() string {
	if id := p.String("messageId"); id != "" {
		return id
	}
	return p.String("id")
}

// Sessions returns the entries of a chatsSessionsUpdated payload. Entries
// that are not objects are skipped.
func (p Payload) Sessions() []Payload {
	raw, ok := p["sessions"].([]any)
	if !ok {
		return nil
	}
	out := make([]Payload, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, Payload(m))
		}
	}
	return out
}

// Kind is the closed enumeration of event payloads the client understands.
// Everything else is KindUnknown and still reaches handlers via the generic
// per-type event.
type Kind int

const (
	KindUnknown Kind = iota
	KindWelcome
	KindChatsSessionsUpdated
	KindChatStarted
	KindMessage
	KindUpdate
	KindAction
	KindError
	KindReplyGenerating
	KindReplyStart
	KindReplyEnd
	KindSpeechPlaybackStart
	KindSpeechPlaybackComplete
	KindInterruptSpeech
	KindCompletion
)

var kindByType = map[string]Kind{
	"welcome":                KindWelcome,
	"chatsSessionsUpdated":   KindChatsSessionsUpdated,
	"chatStarted":            KindChatStarted,
	"message":                KindMessage,
	"update":                 KindUpdate,
	"action":                 KindAction,
	"error":                  KindError,
	"replyGenerating":        KindReplyGenerating,
	"replyStart":             KindReplyStart,
	"replyEnd":               KindReplyEnd,
	"speechPlaybackStart":    KindSpeechPlaybackStart,
	"speechPlaybackComplete": KindSpeechPlaybackComplete,
	"interruptSpeech":        KindInterruptSpeech,
	"completion":             KindCompletion,
}

// KindOf resolves a "$type" discriminator to its Kind. Unknown
// discriminators resolve to KindUnknown.
func KindOf(eventType string) Kind {
	return kindByType[eventType]
}

// Event names synthesized by the client itself, in addition to the
// server-provided "$type" values.
const (
	EventReady      = "ready"
	EventClose      = "close"
	EventError      = "error"
	EventCompletion = "completion"
	EventClientSend = "client_send"
)

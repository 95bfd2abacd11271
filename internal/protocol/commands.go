package protocol

import (
	"encoding/json"
	"fmt"
)

// invocationTarget is the hub method every client command is sent to.
const invocationTarget = "SendMessage"

// Command is a fixed-shape outbound payload. Each command knows its own
// "$type" discriminator; the set is closed within this package.
type Command interface {
	commandType() string
}

// NewInvocation wraps a command into an invocation envelope with the given
// invocation id. The id only correlates an eventual completion frame; the
// protocol offers no request/response pairing.
func NewInvocation(invocationID string, cmd Command) (*Envelope, error) {
	arg, err := marshalCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s command: %w", cmd.commandType(), err)
	}
	return &Envelope{
		Type:         FrameInvocation,
		InvocationID: invocationID,
		Target:       invocationTarget,
		Arguments:    []json.RawMessage{arg},
	}, nil
}

// marshalCommand serializes a command and injects its "$type" discriminator.
func marshalCommand(cmd Command) (json.RawMessage, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["$type"] = cmd.commandType()
	return json.Marshal(fields)
}

// Capabilities declares what this client can do, sent once per connection as
// part of the authenticate command.
type Capabilities struct {
	AudioInput                string   `json:"audioInput"`
	AudioOutput               string   `json:"audioOutput"`
	AcceptedAudioContentTypes []string `json:"acceptedAudioContentTypes"`
	VisionCapture             string   `json:"visionCapture"`
	VisionSources             []string `json:"visionSources"`
}

// DefaultCapabilities returns the capability declaration matching what the
// hub's own web client advertises.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		AudioInput:  "WebSocketStream",
		AudioOutput: "Url",
		AcceptedAudioContentTypes: []string{
			"audio/x-wav", "audio/wav", "audio/mpeg",
			"audio/webm", "audio/pcm", "audio/ogg",
		},
		VisionCapture: "PostImage",
		VisionSources: []string{"Screen", "Eyes", "Attachment"},
	}
}

// Authenticate sends the fixed capability and scope declaration.
type Authenticate struct {
	Client        string       `json:"client"`
	ClientVersion string       `json:"clientVersion"`
	Scope         []string     `json:"scope"`
	Capabilities  Capabilities `json:"capabilities"`
}

func (Authenticate) commandType() string { return "authenticate" }

// NewAuthenticate builds the authenticate command with the default scopes
// and capabilities.
func NewAuthenticate(client, clientVersion string) Authenticate {
	return Authenticate{
		Client:        client,
		ClientVersion: clientVersion,
		Scope:         []string{"role:app", "role:admin", "role:inspector", "role:user"},
		Capabilities:  DefaultCapabilities(),
	}
}

// RegisterApp identifies this application to the hub.
type RegisterApp struct {
	ClientVersion string `json:"clientVersion"`
	Label         string `json:"label"`
}

func (RegisterApp) commandType() string { return "registerApp" }

// StartChat starts a new chat with a character.
type StartChat struct {
	CharacterID string           `json:"characterId"`
	Contexts    []map[string]any `json:"contexts"`
}

func (StartChat) commandType() string { return "startChat" }

// ResumeChat resumes an existing chat.
type ResumeChat struct {
	ChatID string `json:"chatId"`
}

func (ResumeChat) commandType() string { return "resumeChat" }

// StopChat stops an active chat.
type StopChat struct {
	ChatID string `json:"chatId"`
}

func (StopChat) commandType() string { return "stopChat" }

// SubscribeToChat subscribes to events for a chat session.
type SubscribeToChat struct {
	SessionID string `json:"sessionId"`
	ChatID    string `json:"chatId"`
}

func (SubscribeToChat) commandType() string { return "subscribeToChat" }

// Send delivers a user message to a session.
type Send struct {
	SessionID                  string `json:"sessionId"`
	Text                       string `json:"text"`
	DoReply                    bool   `json:"doReply"`
	DoUserActionInference      bool   `json:"doUserActionInference"`
	DoCharacterActionInference bool   `json:"doCharacterActionInference"`
}

func (Send) commandType() string { return "send" }

// Interrupt stops the current reply or speech.
type Interrupt struct {
	SessionID string `json:"sessionId"`
}

func (Interrupt) commandType() string { return "interrupt" }

// Pause toggles automatic continuation of the chat.
type Pause struct {
	SessionID string `json:"sessionId"`
	Pause     bool   `json:"pause"`
}

func (Pause) commandType() string { return "pause" }

// Retry regenerates the last reply.
type Retry struct {
	SessionID string `json:"sessionId"`
}

func (Retry) commandType() string { return "retry" }

// Revert removes the last message from the session.
type Revert struct {
	SessionID string `json:"sessionId"`
}

func (Revert) commandType() string { return "revert" }

// TypingStart notifies the hub that the user started typing.
type TypingStart struct {
	SessionID string `json:"sessionId"`
}

func (TypingStart) commandType() string { return "typingStart" }

// TypingEnd notifies the hub that the user stopped typing.
type TypingEnd struct {
	SessionID string `json:"sessionId"`
}

func (TypingEnd) commandType() string { return "typingEnd" }

// AddChatParticipant adds a character to the session.
type AddChatParticipant struct {
	SessionID   string `json:"sessionId"`
	CharacterID string `json:"characterId"`
}

func (AddChatParticipant) commandType() string { return "addChatParticipant" }

// RemoveChatParticipant removes a character from the session.
type RemoveChatParticipant struct {
	SessionID   string `json:"sessionId"`
	CharacterID string `json:"characterId"`
}

func (RemoveChatParticipant) commandType() string { return "removeChatParticipant" }

// UpdateMessage edits a previous message.
type UpdateMessage struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

func (UpdateMessage) commandType() string { return "updateMessage" }

// DeleteMessage removes a message from the history.
type DeleteMessage struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

func (DeleteMessage) commandType() string { return "deleteMessage" }

// SpeechPlaybackStart reports that client-side playback of a message began.
type SpeechPlaybackStart struct {
	SessionID  string  `json:"sessionId"`
	MessageID  string  `json:"messageId"`
	StartIndex int     `json:"startIndex"`
	EndIndex   int     `json:"endIndex"`
	Duration   float64 `json:"duration"`
}

func (SpeechPlaybackStart) commandType() string { return "speechPlaybackStart" }

// SpeechPlaybackComplete reports that client-side playback finished.
type SpeechPlaybackComplete struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
}

func (SpeechPlaybackComplete) commandType() string { return "speechPlaybackComplete" }

// CharacterSpeechRequest asks a character to start or resume speaking.
type CharacterSpeechRequest struct {
	SessionID   string `json:"sessionId"`
	CharacterID string `json:"characterId"`
	Text        string `json:"text"`
}

func (CharacterSpeechRequest) commandType() string { return "characterSpeechRequest" }

// RequestSuggestions asks for message suggestions.
type RequestSuggestions struct {
	SessionID string `json:"sessionId"`
}

func (RequestSuggestions) commandType() string { return "requestSuggestions" }

// TriggerAction explicitly triggers a named action.
type TriggerAction struct {
	SessionID string         `json:"sessionId"`
	MessageID string         `json:"messageId"`
	Value     string         `json:"value"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func (TriggerAction) commandType() string { return "triggerAction" }

// Inspect toggles session debug state.
type Inspect struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

func (Inspect) commandType() string { return "inspect" }

// InspectAudioInput toggles audio input inspection.
type InspectAudioInput struct {
	SessionID string `json:"sessionId"`
	Enabled   bool   `json:"enabled"`
}

func (InspectAudioInput) commandType() string { return "inspectAudioInput" }

// UpdateContext updates session contexts, actions, events, flags and roles.
// Nil slices and maps are omitted from the wire payload.
type UpdateContext struct {
	SessionID   string           `json:"sessionId"`
	ContextKey  string           `json:"contextKey"`
	Contexts    []map[string]any `json:"contexts,omitempty"`
	Actions     []map[string]any `json:"actions,omitempty"`
	Events      []map[string]any `json:"events,omitempty"`
	SetFlags    []string         `json:"setFlags,omitempty"`
	EnableRoles map[string]bool  `json:"enableRoles,omitempty"`
}

func (UpdateContext) commandType() string { return "updateContext" }

// LoadCharactersList requests the character catalog.
type LoadCharactersList struct{}

func (LoadCharactersList) commandType() string { return "loadCharactersList" }

// LoadScenariosList requests the scenario catalog.
type LoadScenariosList struct{}

func (LoadScenariosList) commandType() string { return "loadScenariosList" }

// LoadChatsList requests the chat list, optionally filtered.
type LoadChatsList struct {
	CharacterID string `json:"characterId,omitempty"`
	ScenarioID  string `json:"scenarioId,omitempty"`
}

func (LoadChatsList) commandType() string { return "loadChatsList" }

package client

import (
	"github.com/google/uuid"

	"github.com/voxhub/voxlink/internal/protocol"
)

// Outbound commands are fire-and-forget: each builds a discriminator-tagged
// payload with a fresh invocation id and hands it to the transport. The
// return value reports whether the command was handed off; a command that
// cannot resolve a session is a silent, logged no-op returning false, never
// an error, and is not queued for later delivery.

// resolveSession picks the explicit session id when given, falling back to
// the pinned session.
func (c *Client) resolveSession(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.SessionID == "" {
		return "", false
	}
	return c.state.SessionID, true
}

// resolveMessage picks the explicit message id when given, falling back to
// the last observed message.
func (c *Client) resolveMessage(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.LastMessageID == "" {
		return "", false
	}
	return c.state.LastMessageID, true
}

// sendCommand wraps a command into an invocation envelope and sends it. The
// outgoing payload is also emitted as a client_send event so listeners (such
// as proxies) can track outbound traffic.
func (c *Client) sendCommand(cmd protocol.Command) bool {
	env, err := protocol.NewInvocation(uuid.NewString(), cmd)
	if err != nil {
		c.logger.Error("command build failed", "error", err)
		return false
	}

	if payload, ok := env.FirstArgument(); ok {
		payload["invocationId"] = env.InvocationID
		c.registry.Emit(c.emitCtx(), protocol.EventClientSend, payload)
	}

	c.conn.Send(env)
	return true
}

// skipUnpinned logs the standard no-session no-op.
func (c *Client) skipUnpinned(command string) bool {
	c.logger.Warn("command skipped: no session pinned", "command", command)
	return false
}

// Authenticate sends the fixed capability and scope declaration. Called
// automatically by Connect.
func (c *Client) Authenticate() bool {
	c.logger.Info("authenticating")
	return c.sendCommand(protocol.NewAuthenticate("Voxta.Client.Web", c.clientVersion))
}

// RegisterApp registers this application with the hub. An empty label uses
// the client's configured app label.
func (c *Client) RegisterApp(label string) bool {
	if label == "" {
		label = c.appLabel
	}
	c.logger.Info("registering app", "label", label)
	return c.sendCommand(protocol.RegisterApp{
		ClientVersion: c.clientVersion,
		Label:         label,
	})
}

// StartChat starts a new chat with a character.
func (c *Client) StartChat(characterID string, contexts []map[string]any) bool {
	if contexts == nil {
		contexts = []map[string]any{}
	}
	c.logger.Info("starting chat", "character_id", characterID)
	return c.sendCommand(protocol.StartChat{CharacterID: characterID, Contexts: contexts})
}

// ResumeChat resumes an existing chat.
func (c *Client) ResumeChat(chatID string) bool {
	c.logger.Info("resuming chat", "chat_id", chatID)
	return c.sendCommand(protocol.ResumeChat{ChatID: chatID})
}

// StopChat stops an active chat.
func (c *Client) StopChat(chatID string) bool {
	c.logger.Info("stopping chat", "chat_id", chatID)
	return c.sendCommand(protocol.StopChat{ChatID: chatID})
}

// SubscribeToChat subscribes to events for a chat session.
func (c *Client) SubscribeToChat(sessionID, chatID string) bool {
	c.logger.Info("subscribing to chat", "chat_id", chatID)
	return c.sendCommand(protocol.SubscribeToChat{SessionID: sessionID, ChatID: chatID})
}

// SendOptions control how a user message is delivered.
type SendOptions struct {
	// SessionID overrides the pinned session.
	SessionID string
	// DoReply makes the hub generate a reply immediately.
	DoReply bool
	// DoUserActionInference runs action inference on the user message.
	DoUserActionInference bool
	// DoCharacterActionInference runs action inference on the reply.
	DoCharacterActionInference bool
}

// DefaultSendOptions returns the options for a normal conversational
// message: reply and both inference passes enabled.
func DefaultSendOptions() SendOptions {
	return SendOptions{
		DoReply:                    true,
		DoUserActionInference:      true,
		DoCharacterActionInference: true,
	}
}

// SendText sends a user message to the session. A nil opts means
// DefaultSendOptions.
func (c *Client) SendText(text string, opts *SendOptions) bool {
	if opts == nil {
		defaults := DefaultSendOptions()
		opts = &defaults
	}
	sessionID, ok := c.resolveSession(opts.SessionID)
	if !ok {
		return c.skipUnpinned("send")
	}
	c.logger.Info("sending message", "session_id", sessionID, "chars", len(text))
	return c.sendCommand(protocol.Send{
		SessionID:                  sessionID,
		Text:                       text,
		DoReply:                    opts.DoReply,
		DoUserActionInference:      opts.DoUserActionInference,
		DoCharacterActionInference: opts.DoCharacterActionInference,
	})
}

// Interrupt stops the current reply or speech.
func (c *Client) Interrupt(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("interrupt")
	}
	return c.sendCommand(protocol.Interrupt{SessionID: sessionID})
}

// Pause toggles automatic continuation of the chat.
func (c *Client) Pause(sessionID string, pause bool) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("pause")
	}
	return c.sendCommand(protocol.Pause{SessionID: sessionID, Pause: pause})
}

// Retry regenerates the last reply.
func (c *Client) Retry(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("retry")
	}
	return c.sendCommand(protocol.Retry{SessionID: sessionID})
}

// Revert removes the last message from the session.
func (c *Client) Revert(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("revert")
	}
	return c.sendCommand(protocol.Revert{SessionID: sessionID})
}

// TypingStart notifies the hub that the user started typing.
func (c *Client) TypingStart(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("typingStart")
	}
	return c.sendCommand(protocol.TypingStart{SessionID: sessionID})
}

// TypingEnd notifies the hub that the user stopped typing.
func (c *Client) TypingEnd(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("typingEnd")
	}
	return c.sendCommand(protocol.TypingEnd{SessionID: sessionID})
}

// AddChatParticipant adds a character to the session.
func (c *Client) AddChatParticipant(characterID, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("addChatParticipant")
	}
	return c.sendCommand(protocol.AddChatParticipant{SessionID: sessionID, CharacterID: characterID})
}

// RemoveChatParticipant removes a character from the session.
func (c *Client) RemoveChatParticipant(characterID, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("removeChatParticipant")
	}
	return c.sendCommand(protocol.RemoveChatParticipant{SessionID: sessionID, CharacterID: characterID})
}

// UpdateMessage edits a previous message.
func (c *Client) UpdateMessage(messageID, text, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("updateMessage")
	}
	return c.sendCommand(protocol.UpdateMessage{SessionID: sessionID, MessageID: messageID, Text: text})
}

// DeleteMessage removes a message from the history.
func (c *Client) DeleteMessage(messageID, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("deleteMessage")
	}
	return c.sendCommand(protocol.DeleteMessage{SessionID: sessionID, MessageID: messageID})
}

// SpeechPlaybackStart reports that client-side playback began. Empty ids
// fall back to the pinned session and the last observed message.
func (c *Client) SpeechPlaybackStart(sessionID, messageID string) bool {
	sessionID, okSession := c.resolveSession(sessionID)
	messageID, okMessage := c.resolveMessage(messageID)
	if !okSession || !okMessage {
		c.logger.Warn("speechPlaybackStart skipped: missing session or message id")
		return false
	}
	return c.sendCommand(protocol.SpeechPlaybackStart{SessionID: sessionID, MessageID: messageID})
}

// SpeechPlaybackComplete reports that client-side playback finished.
func (c *Client) SpeechPlaybackComplete(sessionID, messageID string) bool {
	sessionID, okSession := c.resolveSession(sessionID)
	messageID, okMessage := c.resolveMessage(messageID)
	if !okSession || !okMessage {
		c.logger.Warn("speechPlaybackComplete skipped: missing session or message id")
		return false
	}
	return c.sendCommand(protocol.SpeechPlaybackComplete{SessionID: sessionID, MessageID: messageID})
}

// CharacterSpeechRequest asks a character to start or resume speaking.
func (c *Client) CharacterSpeechRequest(characterID, text, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("characterSpeechRequest")
	}
	c.logger.Info("requesting character speech", "character_id", characterID)
	return c.sendCommand(protocol.CharacterSpeechRequest{
		SessionID:   sessionID,
		CharacterID: characterID,
		Text:        text,
	})
}

// RequestSuggestions asks for message suggestions.
func (c *Client) RequestSuggestions(sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("requestSuggestions")
	}
	return c.sendCommand(protocol.RequestSuggestions{SessionID: sessionID})
}

// TriggerAction explicitly triggers a named action.
func (c *Client) TriggerAction(action string, args map[string]any, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("triggerAction")
	}
	return c.sendCommand(protocol.TriggerAction{
		SessionID: sessionID,
		MessageID: uuid.NewString(),
		Value:     action,
		Arguments: args,
	})
}

// Inspect toggles session debug state. Requires an explicit session id.
func (c *Client) Inspect(sessionID string, enabled bool) bool {
	if sessionID == "" {
		return c.skipUnpinned("inspect")
	}
	c.logger.Info("toggling inspect", "session_id", sessionID, "enabled", enabled)
	return c.sendCommand(protocol.Inspect{SessionID: sessionID, Enabled: enabled})
}

// InspectAudioInput toggles audio input inspection.
func (c *Client) InspectAudioInput(enabled bool, sessionID string) bool {
	sessionID, ok := c.resolveSession(sessionID)
	if !ok {
		return c.skipUnpinned("inspectAudioInput")
	}
	return c.sendCommand(protocol.InspectAudioInput{SessionID: sessionID, Enabled: enabled})
}

// ContextUpdate carries the optional parts of an updateContext command.
type ContextUpdate struct {
	Contexts    []map[string]any
	Actions     []map[string]any
	Events      []map[string]any
	SetFlags    []string
	EnableRoles map[string]bool
}

// UpdateContext updates session contexts, actions, events, flags and roles.
// Requires an explicit session id.
func (c *Client) UpdateContext(sessionID, contextKey string, update ContextUpdate) bool {
	if sessionID == "" {
		return c.skipUnpinned("updateContext")
	}
	c.logger.Info("updating context", "session_id", sessionID, "context_key", contextKey)
	return c.sendCommand(protocol.UpdateContext{
		SessionID:   sessionID,
		ContextKey:  contextKey,
		Contexts:    update.Contexts,
		Actions:     update.Actions,
		Events:      update.Events,
		SetFlags:    update.SetFlags,
		EnableRoles: update.EnableRoles,
	})
}

// LoadCharactersList requests the character catalog.
func (c *Client) LoadCharactersList() bool {
	return c.sendCommand(protocol.LoadCharactersList{})
}

// LoadScenariosList requests the scenario catalog.
func (c *Client) LoadScenariosList() bool {
	return c.sendCommand(protocol.LoadScenariosList{})
}

// LoadChatsList requests the chat list, optionally filtered by character or
// scenario.
func (c *Client) LoadChatsList(characterID, scenarioID string) bool {
	return c.sendCommand(protocol.LoadChatsList{CharacterID: characterID, ScenarioID: scenarioID})
}

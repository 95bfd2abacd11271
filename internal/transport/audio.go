package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/voxhub/voxlink/internal/logging"
	"github.com/voxhub/voxlink/internal/protocol"
)

// ChunkFunc receives each binary audio chunk in arrival order.
type ChunkFunc func(chunk []byte)

// ControlFunc receives JSON control payloads interleaved on the audio socket.
type ControlFunc func(p protocol.Payload)

// AudioStream is the raw-binary streaming variant of the transport, used for
// audio input/output. Binary socket messages are forwarded to the chunk
// callback; text messages are treated as record-separated JSON control
// payloads. It shares the negotiation dance with Transport but carries no
// protocol semantics of its own.
type AudioStream struct {
	logger *slog.Logger

	onChunk   ChunkFunc
	onControl ControlFunc
	onClose   CloseFunc

	running atomic.Bool

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// AudioOption configures an AudioStream.
type AudioOption func(*AudioStream)

// WithAudioLogger sets a custom logger.
func WithAudioLogger(logger *slog.Logger) AudioOption {
	return func(s *AudioStream) {
		s.logger = logger
	}
}

// NewAudioStream creates an unconnected audio stream.
func NewAudioStream(opts ...AudioOption) *AudioStream {
	s := &AudioStream{logger: logging.Audio()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCallbacks installs the chunk, control and close callbacks. Must be
// called before Connect.
func (s *AudioStream) SetCallbacks(onChunk ChunkFunc, onControl ControlFunc, onClose CloseFunc) {
	s.onChunk = onChunk
	s.onControl = onControl
	s.onClose = onClose
}

// Running reports whether the stream is connected.
func (s *AudioStream) Running() bool {
	return s.running.Load()
}

// Connect dials the given socket URL (already negotiated, token included)
// and starts the read loop.
func (s *AudioStream) Connect(ctx context.Context, socketURL string, cookies []*http.Cookie) error {
	header := http.Header{}
	if len(cookies) > 0 {
		header.Set("Cookie", cookieHeader(cookies))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return &ConnectionError{URL: socketURL, Err: err}
	}

	once := new(sync.Once)
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.running.Store(true)

	s.logger.Info("audio stream connected", "url", socketURL)
	go s.readLoop(conn, once)
	return nil
}

// SendChunk writes a binary audio chunk. Best effort, like Transport.Send.
func (s *AudioStream) SendChunk(chunk []byte) {
	if !s.running.Load() {
		s.logger.Warn("audio chunk dropped: not connected")
		return
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, chunk)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Error("audio write failed", "error", err)
		s.running.Store(false)
	}
}

// Close shuts the stream down. Idempotent and safe before Connect.
func (s *AudioStream) Close() error {
	s.running.Store(false)

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *AudioStream) readLoop(conn *websocket.Conn, once *sync.Once) {
	defer func() {
		s.running.Store(false)
		conn.Close()
		once.Do(func() {
			s.logger.Info("audio stream closed")
			if s.onClose != nil {
				s.onClose()
			}
		})
	}()

	for s.running.Load() {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if s.running.Load() {
				s.logger.Warn("audio read ended", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if s.onChunk != nil {
				s.onChunk(data)
			}
		case websocket.TextMessage:
			s.dispatchControl(data)
		}
	}
}

func (s *AudioStream) dispatchControl(data []byte) {
	for _, raw := range bytes.Split(data, []byte{protocol.RecordSeparator}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var p protocol.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Error("audio control decode failed", "error", err)
			continue
		}
		if s.onControl != nil {
			s.onControl(p)
		}
	}
}

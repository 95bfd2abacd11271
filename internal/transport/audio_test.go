package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxhub/voxlink/internal/protocol"
)

func TestAudioStreamReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02, 0x03})
		control := `{"$type":"speechRecognitionStart"}` + string(protocol.RecordSeparator)
		conn.WriteMessage(websocket.TextMessage, []byte(control))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	chunks := make(chan []byte, 4)
	controls := make(chan protocol.Payload, 4)
	closed := make(chan struct{})

	s := NewAudioStream()
	s.SetCallbacks(
		func(chunk []byte) { chunks <- chunk },
		func(p protocol.Payload) { controls <- p },
		func() { close(closed) },
	)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	if err := s.Connect(context.Background(), wsURL, nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !s.Running() {
		t.Error("Running() = false after Connect")
	}

	select {
	case chunk := <-chunks:
		if len(chunk) != 3 || chunk[0] != 0x01 {
			t.Errorf("chunk = %v, want [1 2 3]", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audio chunk")
	}

	select {
	case p := <-controls:
		if p.Type() != "speechRecognitionStart" {
			t.Errorf("control $type = %q, want speechRecognitionStart", p.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for control payload")
	}

	s.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close callback never fired")
	}
}

func TestAudioStreamCloseBeforeConnect(t *testing.T) {
	s := NewAudioStream()
	if err := s.Close(); err != nil {
		t.Errorf("Close before Connect failed: %v", err)
	}
	// Dropping a chunk while disconnected must not panic.
	s.SendChunk([]byte{0x00})
}

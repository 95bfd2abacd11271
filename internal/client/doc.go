// Package client implements the protocol engine for a conversational hub:
// it turns the transport's inbound frames into typed events, fans them out
// to registered handlers, and tracks which chat/session this client is
// authoritative for.
//
// # Basic Usage
//
// Create a client, register handlers, and connect:
//
//	c := client.New("http://127.0.0.1:5384")
//	c.On("ready", func(ctx context.Context, data protocol.Payload) error {
//	    fmt.Println("session ready:", data.String("sessionId"))
//	    return nil
//	})
//	c.On("message", func(ctx context.Context, data protocol.Payload) error {
//	    fmt.Println(data.String("text"))
//	    return nil
//	})
//	if err := c.Dial(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
// Once the "ready" event fires the client is pinned to a session and
// commands that take a session id accept "" to mean the pinned one:
//
//	c.SendText("hello there", nil)
//
// # Session Pinning
//
// The hub broadcasts the list of active chat sessions to every connected
// client. This client adopts a session from that list only when it has no
// pin yet; once pinned, only a chatStarted event (a direct consequence of a
// command this client issued, or a genuinely new chat) can move the pin.
// This is what prevents one client from silently taking over a session that
// belongs to another.
//
// # Concurrency
//
// Event handlers are invoked from the transport's read loop, one at a time,
// in registration order. A slow handler delays delivery of subsequent
// frames. The command methods are safe to call from any goroutine.
package client

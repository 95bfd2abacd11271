package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxhub/voxlink/internal/client"
	"github.com/voxhub/voxlink/internal/protocol"
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay stdin lines into the chat without prompting replies",
	Long: `Read lines from stdin and inject each one into the pinned chat
session as context. Messages are sent with reply generation disabled,
so the character sees them but does not answer. Useful for feeding
game state or external events into a running conversation.`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	c := client.New(cfg.Server.URL, client.WithAppLabel(cfg.Server.Label))
	defer c.Close()

	ready := make(chan struct{}, 1)
	closed := make(chan struct{})

	c.On(protocol.EventReady, func(ctx context.Context, data protocol.Payload) error {
		select {
		case ready <- struct{}{}:
		default:
		}
		return nil
	})
	c.On(protocol.EventClose, func(ctx context.Context, data protocol.Payload) error {
		close(closed)
		return nil
	})

	if err := c.Dial(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server.URL, err)
	}

	select {
	case <-ready:
	case <-closed:
		return fmt.Errorf("connection closed before a session was ready")
	case <-ctx.Done():
		return nil
	}

	fmt.Fprintln(os.Stderr, "Relaying stdin to the chat. Ctrl-D to stop.")

	silent := &client.SendOptions{
		DoReply:                    false,
		DoUserActionInference:      false,
		DoCharacterActionInference: false,
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return fmt.Errorf("connection closed")
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			c.SendText(line, silent)
		}
	}
}

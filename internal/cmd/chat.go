package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/voxhub/voxlink/internal/client"
	"github.com/voxhub/voxlink/internal/protocol"
	"github.com/voxhub/voxlink/internal/triggers"
)

var (
	// chat-specific flags
	characterID string
	resumeChat  string
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the hub",
	Long: `Connect to the hub and chat from the terminal.

Without flags the client follows the hub's active session list and
pins to the first available chat. Use --character to start a new chat
or --resume to resume an existing one.

Commands (interactive mode only):
  /quit, /exit  - Exit the chat
  /interrupt    - Interrupt the current reply
  /retry        - Regenerate the last reply
  /help         - Show available commands`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&characterID, "character", "", "Start a new chat with this character id")
	chatCmd.Flags().StringVar(&resumeChat, "resume", "", "Resume the chat with this id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	c := client.New(cfg.Server.URL, client.WithAppLabel(cfg.Server.Label))
	defer c.Close()

	ready := make(chan string, 1)
	closed := make(chan struct{})

	c.On(protocol.EventReady, func(ctx context.Context, data protocol.Payload) error {
		select {
		case ready <- data.String("sessionId"):
		default:
		}
		return nil
	})
	c.On("replyChunk", func(ctx context.Context, data protocol.Payload) error {
		fmt.Print(data.String("text"))
		return nil
	})
	c.On("replyEnd", func(ctx context.Context, data protocol.Payload) error {
		fmt.Println()
		return nil
	})
	c.On(protocol.EventClose, func(ctx context.Context, data protocol.Payload) error {
		close(closed)
		return nil
	})

	// Wire configured triggers into the event stream.
	if len(cfg.Triggers) > 0 {
		triggers.NewRunner(cfg.Triggers, nil).Attach(c)
	}

	if err := c.Dial(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Server.URL, err)
	}

	switch {
	case characterID != "":
		c.StartChat(characterID, nil)
	case resumeChat != "":
		c.ResumeChat(resumeChat)
	}

	fmt.Println("Connecting... waiting for a session.")
	select {
	case sessionID := <-ready:
		fmt.Printf("Session ready: %s\n", sessionID)
	case <-closed:
		return fmt.Errorf("connection closed before a session was ready")
	case <-ctx.Done():
		return nil
	}

	return chatLoop(ctx, c, closed)
}

func chatLoop(ctx context.Context, c *client.Client, closed <-chan struct{}) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "you> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	fmt.Println("\nType your message and press Enter. Use /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return fmt.Errorf("connection closed")
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleSlashCommand(c, line); quit {
				return nil
			}
			continue
		}

		c.SendText(line, nil)
	}
}

// handleSlashCommand processes an interactive slash command. It returns
// true when the chat loop should exit.
func handleSlashCommand(c *client.Client, line string) bool {
	switch line {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return true
	case "/interrupt":
		c.Interrupt("")
	case "/retry":
		c.Retry("")
	case "/help", "/h", "/?":
		fmt.Println("Commands: /quit, /exit, /interrupt, /retry, /help")
	default:
		fmt.Printf("Unknown command: %s (try /help)\n", line)
	}
	return false
}

// Package triggers runs user-configured commands in response to hub events.
// Each trigger names the events it matches and a shell command; the event
// payload is piped to the command as JSON. Triggers ride the client's event
// registry, so a failing trigger is isolated like any other handler.
package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"

	"github.com/voxhub/voxlink/internal/client"
	"github.com/voxhub/voxlink/internal/config"
	"github.com/voxhub/voxlink/internal/logging"
	"github.com/voxhub/voxlink/internal/protocol"
)

// DefaultTimeout bounds trigger execution when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Runner executes configured triggers against a client's event stream.
type Runner struct {
	triggers []config.Trigger
	logger   *slog.Logger
}

// NewRunner creates a runner for the given trigger configuration.
func NewRunner(triggers []config.Trigger, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Triggers()
	}
	return &Runner{triggers: triggers, logger: logger}
}

// Attach registers a handler on the client for every event each enabled
// trigger matches. Registration order follows configuration order.
func (r *Runner) Attach(c *client.Client) {
	for i := range r.triggers {
		t := r.triggers[i]
		if !t.IsEnabled() {
			r.logger.Debug("trigger disabled", "trigger", t.Name)
			continue
		}
		for _, event := range t.Events {
			c.On(event, func(ctx context.Context, data protocol.Payload) error {
				return r.Run(ctx, t, data)
			})
		}
	}
}

// Run executes one trigger for one event payload.
func (r *Runner) Run(ctx context.Context, t config.Trigger, data protocol.Payload) error {
	args, err := shlex.Split(t.Command)
	if err != nil {
		return fmt.Errorf("trigger %q: parse command: %w", t.Name, err)
	}
	if len(args) == 0 {
		return fmt.Errorf("trigger %q: empty command", t.Name)
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("trigger %q: marshal payload: %w", t.Name, err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(os.Environ(),
		"VOXLINK_TRIGGER="+t.Name,
		"VOXLINK_EVENT="+data.Type(),
		"VOXLINK_SESSION_ID="+data.String("sessionId"),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	r.logger.Debug("trigger executed",
		"trigger", t.Name,
		"event", data.Type(),
		"duration", time.Since(start),
	)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("trigger %q timed out after %v", t.Name, timeout)
		}
		return fmt.Errorf("trigger %q failed: %w (stderr: %s)", t.Name, err, stderr.String())
	}
	return nil
}

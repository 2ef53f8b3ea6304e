package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"starbot/internal/chat"
	"starbot/internal/logging"
	"starbot/internal/metrics"
)

// Source tells a command whether it was typed by a user or fired by the scheduler
type Source int

const (
	SourceLive Source = iota
	SourceSchedule
)

func (s Source) String() string {
	if s == SourceSchedule {
		return "schedule"
	}
	return "live"
}

// Invocation is one resolved command call
type Invocation struct {
	Message *chat.Message
	Channel *chat.Channel
	Args    []string
	Source  Source
}

// Reply is posted back to the channel. An empty Text posts nothing.
type Reply struct {
	Text string
}

type Command interface {
	Name() string
	Handle(ctx context.Context, inv Invocation) (Reply, error)
}

// Replier posts command replies
type Replier interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// mentionPattern matches a leading <@U123> or <@U123|name>
var mentionPattern = regexp.MustCompile(`^<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// Dispatcher routes "<@bot> verb args" messages to commands
type Dispatcher struct {
	botUserID string
	replier   Replier
	commands  map[string]Command
}

func NewDispatcher(botUserID string, replier Replier, commands ...Command) *Dispatcher {
	d := &Dispatcher{
		botUserID: botUserID,
		replier:   replier,
		commands:  make(map[string]Command, len(commands)),
	}
	for _, cmd := range commands {
		d.commands[strings.ToLower(cmd.Name())] = cmd
	}
	return d
}

// Resolve finds the command addressed to the bot in text. Messages that do not
// start with a mention of the bot, or name an unknown verb, resolve to nothing.
func (d *Dispatcher) Resolve(text string) (Command, []string, bool) {
	text = strings.TrimSpace(text)
	match := mentionPattern.FindStringSubmatch(text)
	if match == nil || match[1] != d.botUserID {
		return nil, nil, false
	}

	fields := strings.Fields(text[len(match[0]):])
	if len(fields) == 0 {
		return nil, nil, false
	}

	cmd, ok := d.commands[strings.ToLower(fields[0])]
	if !ok {
		return nil, nil, false
	}
	return cmd, fields[1:], true
}

// Dispatch runs the command in msg, if any, and posts its reply. It reports
// whether msg was a command.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *chat.Message, ch *chat.Channel, source Source) (bool, error) {
	cmd, args, ok := d.Resolve(msg.Text)
	if !ok {
		return false, nil
	}

	logger := logging.LoggerFromContext(ctx)
	logger.Debug("Dispatching command", "command", cmd.Name(), "channel_id", ch.ID, "source", source.String())

	start := time.Now()
	reply, err := cmd.Handle(ctx, Invocation{
		Message: msg,
		Channel: ch,
		Args:    args,
		Source:  source,
	})
	metrics.CommandsDispatched.WithLabelValues(cmd.Name(), source.String(), metrics.Status(err)).Inc()

	if err != nil {
		logger.Error("Command failed",
			"command", cmd.Name(),
			"channel_id", ch.ID,
			"duration", time.Since(start),
			"error", err)
	}

	if reply.Text != "" && d.replier != nil {
		if sendErr := d.replier.SendMessage(ctx, ch.ID, reply.Text); sendErr != nil {
			logger.Warn("Failed to send command reply", "command", cmd.Name(), "channel_id", ch.ID, "error", sendErr)
		}
	}

	if err != nil {
		return true, fmt.Errorf("command %s failed: %w", cmd.Name(), err)
	}
	return true, nil
}

package commands

import (
	"context"
	"errors"
	"strings"

	"starbot/internal/blacklist"
	"starbot/internal/chat"
	"starbot/internal/metrics"
)

// Blacklist is the shared set the ban and unban commands mutate
type Blacklist interface {
	Ban(text string) error
	Unban(text string) error
	Values() []string
}

type BanCommand struct {
	list Blacklist
}

func NewBanCommand(list Blacklist) *BanCommand {
	return &BanCommand{list: list}
}

func (c *BanCommand) Name() string { return "ban" }

func (c *BanCommand) Handle(ctx context.Context, inv Invocation) (Reply, error) {
	return mutate(c.list, c.list.Ban, "ban", inv.Args)
}

type UnbanCommand struct {
	list Blacklist
}

func NewUnbanCommand(list Blacklist) *UnbanCommand {
	return &UnbanCommand{list: list}
}

func (c *UnbanCommand) Name() string { return "unban" }

func (c *UnbanCommand) Handle(ctx context.Context, inv Invocation) (Reply, error) {
	return mutate(c.list, c.list.Unban, "unban", inv.Args)
}

func mutate(list Blacklist, op func(string) error, verb string, args []string) (Reply, error) {
	var text string
	if len(args) > 0 {
		// Slack auto-links domain-like text, e.g. <http://spam.com|spam.com>
		text = chat.StripMarkup(args[0])
	}

	if err := op(text); err != nil {
		if errors.Is(err, blacklist.ErrInvalidArgument) {
			return Reply{Text: "Usage: " + verb + " <text>"}, nil
		}
		return Reply{}, err
	}

	values := list.Values()
	metrics.BlacklistSize.Set(float64(len(values)))
	return Reply{Text: FormatBlacklist(values)}, nil
}

// FormatBlacklist renders the reply listing the current entries
func FormatBlacklist(values []string) string {
	if len(values) == 0 {
		return "Blacklist is empty"
	}
	return "Blacklist: " + strings.Join(values, ", ")
}

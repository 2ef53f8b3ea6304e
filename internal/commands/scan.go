package commands

import (
	"context"
	"fmt"

	"starbot/internal/chat"
	"starbot/internal/scanner"
)

// ChannelScanner runs the link deduplication pipeline over one channel
type ChannelScanner interface {
	Scan(ctx context.Context, ch *chat.Channel) (scanner.Result, error)
}

type ScanCommand struct {
	scanner ChannelScanner
}

func NewScanCommand(s ChannelScanner) *ScanCommand {
	return &ScanCommand{scanner: s}
}

func (c *ScanCommand) Name() string { return "scan" }

func (c *ScanCommand) Handle(ctx context.Context, inv Invocation) (Reply, error) {
	result, err := c.scanner.Scan(ctx, inv.Channel)
	if err != nil {
		return Reply{Text: "Scan failed, no links were saved"}, err
	}

	// scheduled scans only speak up when they found something
	if inv.Source == SourceSchedule && result.Inserted == 0 {
		return Reply{}, nil
	}

	return Reply{Text: fmt.Sprintf("%d new links saved", result.Inserted)}, nil
}

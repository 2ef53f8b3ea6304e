package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"starbot/internal/chat"
	"starbot/internal/metrics"
	"starbot/internal/scanner"
)

const (
	// historyPageSize is the largest page conversations.history returns
	historyPageSize = 200
	channelPageSize = 200
	maxRateRetries  = 3
)

// Client is the Slack Web API as the bot uses it
type Client struct {
	api     *slack.Client
	limiter *rate.Limiter
}

type Option func(*options)

type options struct {
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// WithAPIURL points the client at another Slack API endpoint, e.g. a test server
func WithAPIURL(apiURL string) Option {
	return func(o *options) { o.apiURL = apiURL }
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithLimiter replaces the default pacing of about one call per second
func WithLimiter(limiter *rate.Limiter) Option {
	return func(o *options) { o.limiter = limiter }
}

func NewClient(botToken string, opts ...Option) *Client {
	o := &options{
		limiter: rate.NewLimiter(rate.Every(time.Second), 10),
	}
	for _, opt := range opts {
		opt(o)
	}

	var slackOpts []slack.Option
	if o.apiURL != "" {
		slackOpts = append(slackOpts, slack.OptionAPIURL(o.apiURL))
	}
	if o.httpClient != nil {
		slackOpts = append(slackOpts, slack.OptionHTTPClient(o.httpClient))
	}

	return &Client{
		api:     slack.New(botToken, slackOpts...),
		limiter: o.limiter,
	}
}

// call paces fn through the limiter and retries it while Slack answers with a
// rate limit, waiting the advertised Retry-After between attempts.
func (c *Client) call(ctx context.Context, method string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn()

		var rateErr *slack.RateLimitedError
		if errors.As(err, &rateErr) && attempt < maxRateRetries {
			metrics.SlackRateLimited.WithLabelValues(method).Inc()
			slog.Warn("Slack rate limited, backing off", "method", method, "retry_after", rateErr.RetryAfter, "attempt", attempt+1)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rateErr.RetryAfter):
			}
			continue
		}

		metrics.SlackAPICalls.WithLabelValues(method, metrics.Status(err)).Inc()
		return err
	}
}

// Identity resolves the team and bot user behind the token
func (c *Client) Identity(ctx context.Context) (chat.Identity, error) {
	var auth *slack.AuthTestResponse
	err := c.call(ctx, "auth.test", func() (err error) {
		auth, err = c.api.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return chat.Identity{}, fmt.Errorf("auth.test failed: %w", err)
	}

	identity := chat.Identity{
		TeamID:     auth.TeamID,
		TeamName:   auth.Team,
		TeamDomain: domainFromURL(auth.URL),
		BotUserID:  auth.UserID,
	}

	var team *slack.TeamInfo
	err = c.call(ctx, "team.info", func() (err error) {
		team, err = c.api.GetTeamInfoContext(ctx)
		return err
	})
	if err != nil {
		// team.info needs the team:read scope; auth.test is enough to run
		slog.Warn("Could not get team info", "team_id", auth.TeamID, "error", err)
		return identity, nil
	}

	identity.TeamName = team.Name
	identity.TeamDomain = team.Domain
	return identity, nil
}

// Channels lists the public and private channels the bot belongs to, with members
func (c *Client) Channels(ctx context.Context, botUserID string) ([]chat.ChannelInfo, error) {
	var infos []chat.ChannelInfo

	cursor := ""
	for {
		var page []slack.Channel
		var next string
		err := c.call(ctx, "users.conversations", func() (err error) {
			page, next, err = c.api.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
				UserID:          botUserID,
				Cursor:          cursor,
				Types:           []string{"public_channel", "private_channel"},
				Limit:           channelPageSize,
				ExcludeArchived: true,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}

		for _, ch := range page {
			members, err := c.members(ctx, ch.ID)
			if err != nil {
				return nil, err
			}
			infos = append(infos, chat.ChannelInfo{ID: ch.ID, Name: ch.Name, Members: members})
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return infos, nil
}

func (c *Client) members(ctx context.Context, channelID string) ([]string, error) {
	var members []string

	cursor := ""
	for {
		var page []string
		var next string
		err := c.call(ctx, "conversations.members", func() (err error) {
			page, next, err = c.api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
				ChannelID: channelID,
				Cursor:    cursor,
				Limit:     channelPageSize,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list members of %s: %w", channelID, err)
		}

		members = append(members, page...)
		if next == "" {
			return members, nil
		}
		cursor = next
	}
}

// History returns up to limit of the channel's most recent messages, oldest first
func (c *Client) History(ctx context.Context, channelID string, limit int) ([]chat.RawEvent, error) {
	var messages []slack.Message

	cursor := ""
	for len(messages) < limit {
		pageSize := historyPageSize
		if remaining := limit - len(messages); remaining < pageSize {
			pageSize = remaining
		}

		var resp *slack.GetConversationHistoryResponse
		err := c.call(ctx, "conversations.history", func() (err error) {
			resp, err = c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
				ChannelID: channelID,
				Cursor:    cursor,
				Limit:     pageSize,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get history for %s: %w", channelID, err)
		}

		messages = append(messages, resp.Messages...)
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	// Slack pages newest first
	raws := make([]chat.RawEvent, 0, len(messages))
	for i := len(messages) - 1; i >= 0; i-- {
		raws = append(raws, toRawEvent(messages[i].Msg))
	}
	return raws, nil
}

// AddReaction puts emoji on a message. A reaction that is already there is
// reported as scanner.ErrAlreadyReacted.
func (c *Client) AddReaction(ctx context.Context, channelID, timestamp, emoji string) error {
	err := c.call(ctx, "reactions.add", func() error {
		return c.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(channelID, timestamp))
	})
	if err == nil {
		return nil
	}
	if errorCode(err) == "already_reacted" {
		return fmt.Errorf("%w: %s on %s", scanner.ErrAlreadyReacted, emoji, timestamp)
	}
	return fmt.Errorf("failed to add reaction: %w", err)
}

// SendMessage posts text to a channel as the bot
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	err := c.call(ctx, "chat.postMessage", func() error {
		_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func toRawEvent(msg slack.Msg) chat.RawEvent {
	raw := chat.RawEvent{
		Type:      msg.Type,
		SubType:   msg.SubType,
		User:      msg.User,
		BotID:     msg.BotID,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
	for _, reaction := range msg.Reactions {
		raw.Reactions = append(raw.Reactions, chat.Reaction{Name: reaction.Name, Users: reaction.Users})
	}
	return raw
}

// errorCode extracts Slack's error string, e.g. "already_reacted"
func errorCode(err error) string {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		return slackErr.Err
	}
	return strings.TrimSpace(err.Error())
}

// domainFromURL turns "https://acme.slack.com/" into "acme"
func domainFromURL(teamURL string) string {
	parsed, err := url.Parse(teamURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	domain, _, _ := strings.Cut(parsed.Host, ".")
	return domain
}

package chat

import (
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// linkPattern matches URLs Slack delimited as <url> or <url|label> (group 1)
// and bare http(s) URLs in plain text
var linkPattern = regexp.MustCompile(`<(https?://[^|>\s]+)(?:\|[^>]*)?>|https?://[^\s<>|"]+`)

// markupPattern is one Slack <target> or <target|label> span
var markupPattern = regexp.MustCompile(`^<([^|>]+)(?:\|([^>]*))?>$`)

var entityReplacer = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")

const trailingPunctuation = ".,;:!?'\"]}*_~"

// Message is a normalized chat message. Everything except the mark flag is
// fixed at construction.
type Message struct {
	Author    string
	ChannelID string
	Timestamp string
	Text      string

	plainText bool
	links     []Link
	marked    atomic.Bool
}

// NewMessage normalizes a raw platform event posted in channelID
func NewMessage(raw RawEvent, channelID string) *Message {
	msg := &Message{
		Author:    raw.User,
		ChannelID: channelID,
		Timestamp: raw.Timestamp,
		Text:      raw.Text,
		plainText: isPlainText(raw),
	}

	for _, href := range ExtractLinks(raw.Text) {
		msg.links = append(msg.links, Link{
			Href:      href,
			ChannelID: channelID,
			Author:    raw.User,
			Timestamp: raw.Timestamp,
		})
	}

	return msg
}

// isPlainText excludes edits, joins, bot posts and any other service subtype
func isPlainText(raw RawEvent) bool {
	if raw.Type != "" && raw.Type != "message" {
		return false
	}
	if raw.SubType != "" || raw.BotID != "" {
		return false
	}
	return strings.TrimSpace(raw.Text) != ""
}

// IsPlainText reports whether the message is an ordinary user-authored text message
func (m *Message) IsPlainText() bool { return m.plainText }

// Links returns every link found in the text, in order, repeats included
func (m *Message) Links() []Link {
	links := make([]Link, len(m.links))
	copy(links, m.links)
	return links
}

// ContainsLink reports whether at least one link was extracted
func (m *Message) ContainsLink() bool { return len(m.links) > 0 }

// IsMarked reports whether the bot already reacted to this message
func (m *Message) IsMarked() bool { return m.marked.Load() }

// Mark flags the message as reacted-to. It returns false when the message was
// already marked.
func (m *Message) Mark() bool { return m.marked.CompareAndSwap(false, true) }

// PostedAt is the message time derived from its timestamp
func (m *Message) PostedAt() time.Time { return ParseTimestamp(m.Timestamp) }

// ExtractLinks returns the hrefs of every URL in text. Hrefs Slack delimited
// are taken as is; bare URLs lose sentence punctuation glued to their end.
func ExtractLinks(text string) []string {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	hrefs := make([]string, 0, len(matches))
	for _, match := range matches {
		var href string
		if match[1] != "" {
			href = entityReplacer.Replace(match[1])
		} else {
			href = cleanBare(match[0])
		}
		if !validHref(href) {
			continue
		}
		hrefs = append(hrefs, href)
	}
	return hrefs
}

// cleanBare decodes Slack's entities in an undelimited match. A decoded < or >
// ends the URL.
func cleanBare(candidate string) string {
	href := entityReplacer.Replace(candidate)
	if i := strings.IndexAny(href, "<>"); i >= 0 {
		href = href[:i]
	}
	return trimTrailing(href)
}

func validHref(href string) bool {
	parsed, err := url.Parse(href)
	return err == nil && parsed.Host != ""
}

// StripMarkup turns a Slack-formatted argument back into what the user typed:
// <url|label> gives the label, <url> the url. Entities are decoded.
func StripMarkup(text string) string {
	text = strings.TrimSpace(text)
	if m := markupPattern.FindStringSubmatch(text); m != nil {
		text = m[1]
		if m[2] != "" {
			text = m[2]
		} else if strings.HasPrefix(text, "mailto:") {
			text = strings.TrimPrefix(text, "mailto:")
		}
	}
	return entityReplacer.Replace(text)
}

// trimTrailing drops sentence punctuation glued to the end of a URL. A closing
// paren is kept when it balances one inside the URL.
func trimTrailing(href string) string {
	for href != "" {
		last := href[len(href)-1]
		unbalanced := last == ')' && strings.Count(href, ")") > strings.Count(href, "(")
		if strings.IndexByte(trailingPunctuation, last) < 0 && !unbalanced {
			break
		}
		href = href[:len(href)-1]
	}
	return href
}

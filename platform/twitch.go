package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchClient bridges push-based Twitch IRC chat into the pull-based Client
// contract. Incoming messages are buffered per channel; FetchPage serves
// slices of the buffer and the pagination cursor is a message sequence number.
type TwitchClient struct {
	irc *twitch.Client

	mu      sync.Mutex
	buffers map[string]*chatBuffer

	maxBuffer int
}

// NewTwitchClient creates the bridge using a bot identity. The client does not
// connect until Start is called.
func NewTwitchClient(username, oauthToken string) *TwitchClient {
	c := &TwitchClient{
		irc:       twitch.NewClient(username, oauthToken),
		buffers:   make(map[string]*chatBuffer),
		maxBuffer: 10000,
	}
	c.irc.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		c.mu.Lock()
		buf, ok := c.buffers[strings.ToLower(msg.Channel)]
		c.mu.Unlock()
		if !ok {
			return
		}
		buf.append(Message{
			ID:          msg.ID,
			Author:      msg.User.DisplayName,
			Text:        msg.Message,
			PublishedAt: msg.Time.UTC(),
		})
	})
	return c
}

// Start connects to Twitch IRC and blocks until ctx is cancelled.
func (c *TwitchClient) Start(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.irc.Disconnect()
		close(done)
	}()
	if err := c.irc.Connect(); err != nil {
		slog.Error("twitch irc connect error", slog.Any("err", err), slog.String("component", "platform"))
	}
	<-done
}

// ResolveStream accepts a twitch.tv channel URL (or bare channel login) and
// joins its chat. The channel login doubles as video and chat channel ID.
func (c *TwitchClient) ResolveStream(ctx context.Context, rawURL string) (StreamInfo, error) {
	login, err := extractTwitchLogin(rawURL)
	if err != nil {
		return StreamInfo{}, err
	}
	c.mu.Lock()
	if _, ok := c.buffers[login]; !ok {
		c.buffers[login] = &chatBuffer{max: c.maxBuffer}
		c.irc.Join(login)
	}
	c.mu.Unlock()
	return StreamInfo{VideoID: login, ChatChannelID: login, Title: login}, nil
}

// FetchPage serves buffered messages after cursor. A session row can outlive
// the process while the buffer map cannot, so an unknown channel is rejoined
// with a fresh buffer rather than reported as ended; the next page is empty
// and buffering resumes.
func (c *TwitchClient) FetchPage(ctx context.Context, chatChannelID, cursor string, limit int) (Page, error) {
	login := strings.ToLower(chatChannelID)
	c.mu.Lock()
	buf, ok := c.buffers[login]
	if !ok {
		buf = &chatBuffer{max: c.maxBuffer}
		c.buffers[login] = buf
		c.irc.Join(login)
	}
	c.mu.Unlock()
	if !ok {
		slog.Info("rejoined twitch channel", slog.String("channel", login), slog.String("component", "platform"))
	}
	return buf.page(cursor, limit)
}

// PostMessage says text in the channel. IRC gives no delivery acknowledgement,
// so errors surface only as connection failures.
func (c *TwitchClient) PostMessage(ctx context.Context, chatChannelID, text string) error {
	c.irc.Say(strings.ToLower(chatChannelID), text)
	return nil
}

// Leave stops buffering a channel and departs its chat. A later fetch for the
// same channel rejoins with an empty buffer.
func (c *TwitchClient) Leave(chatChannelID string) {
	login := strings.ToLower(chatChannelID)
	c.mu.Lock()
	delete(c.buffers, login)
	c.mu.Unlock()
	c.irc.Depart(login)
}

func extractTwitchLogin(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &InvalidLinkError{URL: raw, Reason: "empty"}
	}
	if !strings.Contains(raw, "/") && !strings.Contains(raw, ".") {
		return strings.ToLower(raw), nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", &InvalidLinkError{URL: raw, Reason: "not a url"}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "twitch.tv" && host != "m.twitch.tv" {
		return "", &InvalidLinkError{URL: raw, Reason: "not a twitch link"}
	}
	login := strings.Trim(u.Path, "/")
	if login == "" || strings.Contains(login, "/") {
		return "", &InvalidLinkError{URL: raw, Reason: "missing channel name"}
	}
	return strings.ToLower(login), nil
}

// chatBuffer is a bounded sequence-numbered message buffer. base is the
// sequence number of msgs[0]; trimming advances base so cursors stay stable.
type chatBuffer struct {
	mu   sync.Mutex
	base uint64
	msgs []Message
	max  int
}

func (b *chatBuffer) append(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, m)
	if b.max > 0 && len(b.msgs) > b.max {
		drop := len(b.msgs) - b.max
		b.msgs = append([]Message(nil), b.msgs[drop:]...)
		b.base += uint64(drop)
	}
}

func (b *chatBuffer) page(cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 200
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.base
	if cursor != "" {
		n, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		if n > start {
			start = n
		}
	}
	end := b.base + uint64(len(b.msgs))
	if start > end {
		start = end
	}
	out := b.msgs[start-b.base:]
	if len(out) > limit {
		out = out[:limit]
	}
	next := start + uint64(len(out))
	return Page{
		Messages:   append([]Message(nil), out...),
		NextCursor: strconv.FormatUint(next, 10),
	}, nil
}

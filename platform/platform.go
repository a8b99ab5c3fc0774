// Package platform abstracts the live-chat platform API consumed by the buzz pipeline:
// resolving a stream URL to its chat channel, fetching pages of chat messages by
// pagination cursor, and posting moderator replies. The primary implementation talks
// to the YouTube Live Streaming API with a rotating API key pool; a secondary adapter
// bridges Twitch IRC into the same contract.
package platform

import (
	"context"
	"time"
)

// StreamInfo describes a resolved live stream.
type StreamInfo struct {
	VideoID       string
	ChatChannelID string
	Title         string
	Thumbnail     string
}

// Message is one chat message returned by FetchPage.
type Message struct {
	ID          string
	Author      string
	Text        string
	PublishedAt time.Time
}

// Page is one page of chat messages plus the continuation cursor.
// An empty NextCursor means "no more new messages this fetch", not end of stream.
type Page struct {
	Messages   []Message
	NextCursor string
}

// Client is the platform collaborator contract.
type Client interface {
	// ResolveStream validates a stream URL and returns its identifiers.
	// Fails with *InvalidLinkError when the URL is malformed, the stream does
	// not exist, or it has no active live chat.
	ResolveStream(ctx context.Context, url string) (StreamInfo, error)

	// FetchPage returns the next page of chat messages for a chat channel.
	// Fails with *ChatEndedError once the platform reports the chat closed.
	FetchPage(ctx context.Context, chatChannelID, cursor string, limit int) (Page, error)

	// PostMessage writes a single chat message to the channel.
	PostMessage(ctx context.Context, chatChannelID, text string) error
}

// TokenStore persists OAuth tokens for the posting identity.
type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, scope string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, scope string, err error)
}

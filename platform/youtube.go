package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/castwatch/buzz-tender/backend/config"
)

const oauthProvider = "youtube"

// YouTubeClient implements Client against the YouTube Live Streaming API.
// Read calls (resolve, fetch) authenticate with API keys rotated by a KeyPool;
// posting requires the stored OAuth user token (provider "youtube").
type YouTubeClient struct {
	keys     *KeyPool
	tokens   TokenStore
	oauth    *oauth2.Config
	endpoint string // overrides the API base URL in tests

	mu       sync.Mutex
	services map[string]*yt.Service // per api key
}

// NewYouTubeClient builds a client from config. ts may be nil when posting is
// not needed (read-only deployments).
func NewYouTubeClient(cfg *config.Config, ts TokenStore) *YouTubeClient {
	scopes := []string{"https://www.googleapis.com/auth/youtube.force-ssl"}
	if cfg.YTScopes != "" {
		s := strings.ReplaceAll(cfg.YTScopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			scopes = fields
		}
	}
	return &YouTubeClient{
		keys:   NewKeyPool(cfg.YouTubeAPIKeys),
		tokens: ts,
		oauth: &oauth2.Config{
			ClientID:     cfg.YTClientID,
			ClientSecret: cfg.YTClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.YTRedirectURI,
			Scopes:       scopes,
		},
		services: make(map[string]*yt.Service),
	}
}

// WithEndpoint points all API calls at an alternate base URL (tests).
func (c *YouTubeClient) WithEndpoint(endpoint string) *YouTubeClient {
	c.endpoint = endpoint
	return c
}

func (c *YouTubeClient) service(ctx context.Context, apiKey string) (*yt.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[apiKey]; ok {
		return svc, nil
	}
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	c.services[apiKey] = svc
	return svc, nil
}

// withRead runs fn with a read service, rotating to the next pool key when a
// call fails with a quota or key-auth error. At most one attempt per key.
func (c *YouTubeClient) withRead(ctx context.Context, fn func(*yt.Service) error) error {
	attempts := c.keys.Size()
	if attempts == 0 {
		return ErrNoUsableKey
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		key, err := c.keys.Current()
		if err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		svc, err := c.service(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(svc); err != nil {
			if isKeyExhaustedAPIError(err) {
				tail := key
				if len(tail) > 4 {
					tail = "***" + tail[len(tail)-4:]
				}
				slog.Warn("youtube api key exhausted; rotating", slog.String("key", tail), slog.String("component", "platform"))
				c.keys.MarkExhausted(key)
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,20}$`)

// ExtractVideoID pulls the video ID out of the usual YouTube URL shapes:
// watch?v=, youtu.be/, /live/, /shorts/, or a bare ID.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &InvalidLinkError{URL: raw, Reason: "empty"}
	}
	if videoIDPattern.MatchString(raw) && !strings.Contains(raw, ".") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", &InvalidLinkError{URL: raw, Reason: "not a url"}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "youtu.be":
		if id := strings.Trim(u.Path, "/"); videoIDPattern.MatchString(id) {
			return id, nil
		}
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); videoIDPattern.MatchString(id) {
			return id, nil
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && (parts[0] == "live" || parts[0] == "shorts") && videoIDPattern.MatchString(parts[1]) {
			return parts[1], nil
		}
	}
	return "", &InvalidLinkError{URL: raw, Reason: "unrecognized video link"}
}

// ResolveStream looks up the video and returns its active live chat identifiers.
func (c *YouTubeClient) ResolveStream(ctx context.Context, rawURL string) (StreamInfo, error) {
	videoID, err := ExtractVideoID(rawURL)
	if err != nil {
		return StreamInfo{}, err
	}
	var info StreamInfo
	err = c.withRead(ctx, func(svc *yt.Service) error {
		resp, err := svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return &InvalidLinkError{URL: rawURL, Reason: "video not found"}
		}
		v := resp.Items[0]
		if v.LiveStreamingDetails == nil || v.LiveStreamingDetails.ActiveLiveChatId == "" {
			return &InvalidLinkError{URL: rawURL, Reason: "stream is not live or chat is disabled"}
		}
		info = StreamInfo{
			VideoID:       videoID,
			ChatChannelID: v.LiveStreamingDetails.ActiveLiveChatId,
		}
		if v.Snippet != nil {
			info.Title = v.Snippet.Title
			if v.Snippet.Thumbnails != nil && v.Snippet.Thumbnails.High != nil {
				info.Thumbnail = v.Snippet.Thumbnails.High.Url
			}
		}
		return nil
	})
	if err != nil {
		return StreamInfo{}, err
	}
	return info, nil
}

// FetchPage returns the next page of live chat messages after cursor.
func (c *YouTubeClient) FetchPage(ctx context.Context, chatChannelID, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = 200
	}
	var page Page
	err := c.withRead(ctx, func(svc *yt.Service) error {
		call := svc.LiveChatMessages.List(chatChannelID, []string{"snippet", "authorDetails"}).
			MaxResults(int64(limit)).Context(ctx)
		if cursor != "" {
			call = call.PageToken(cursor)
		}
		resp, err := call.Do()
		if err != nil {
			if isChatEndedAPIError(err) {
				return &ChatEndedError{ChatChannelID: chatChannelID}
			}
			return err
		}
		page = Page{NextCursor: resp.NextPageToken}
		for _, item := range resp.Items {
			if item.Snippet == nil || item.Snippet.DisplayMessage == "" {
				continue
			}
			msg := Message{
				ID:   item.Id,
				Text: item.Snippet.DisplayMessage,
			}
			if item.AuthorDetails != nil {
				msg.Author = item.AuthorDetails.DisplayName
			}
			if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				msg.PublishedAt = t.UTC()
			}
			page.Messages = append(page.Messages, msg)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

// PostMessage inserts a chat message using the stored OAuth user token.
func (c *YouTubeClient) PostMessage(ctx context.Context, chatChannelID, text string) error {
	svc, err := c.postService(ctx)
	if err != nil {
		return err
	}
	msg := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			LiveChatId: chatChannelID,
			Type:       "textMessageEvent",
			TextMessageDetails: &yt.LiveChatTextMessageDetails{
				MessageText: text,
			},
		},
	}
	_, err = svc.LiveChatMessages.Insert([]string{"snippet"}, msg).Context(ctx).Do()
	if err != nil {
		if isChatEndedAPIError(err) {
			return &ChatEndedError{ChatChannelID: chatChannelID}
		}
		return fmt.Errorf("post chat message: %w", err)
	}
	return nil
}

func (c *YouTubeClient) postService(ctx context.Context) (*yt.Service, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("no token store configured for posting")
	}
	tok, err := c.refreshIfNeeded(ctx)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(c.oauth.Client(ctx, tok))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// Refresh exchanges a refresh token for a fresh access token. The background
// refresher uses this so posting never starts from an expired token.
func (c *YouTubeClient) Refresh(ctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("refresh youtube token: %w", err)
	}
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(c.oauth.Scopes, " "), nil
}

func (c *YouTubeClient) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	access, refresh, expiry, _, err := c.tokens.GetOAuthToken(ctx, oauthProvider)
	if err != nil {
		return nil, err
	}
	if access == "" && refresh == "" {
		return nil, fmt.Errorf("no youtube token stored; complete the oauth flow first")
	}
	tok := &oauth2.Token{AccessToken: access, RefreshToken: refresh, Expiry: expiry}
	if time.Until(tok.Expiry) > 2*time.Minute {
		return tok, nil
	}
	newTok, err := c.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		return tok, fmt.Errorf("refresh youtube token: %w", err)
	}
	if newTok.AccessToken != tok.AccessToken {
		_ = c.tokens.UpsertOAuthToken(ctx, oauthProvider, newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, strings.Join(c.oauth.Scopes, " "))
	}
	return newTok, nil
}

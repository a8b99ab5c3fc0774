package platform

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// InvalidLinkError reports a stream URL the platform cannot resolve to an
// active live chat. It is user-caused and surfaced verbatim to the moderator.
type InvalidLinkError struct {
	URL    string
	Reason string
}

func (e *InvalidLinkError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid stream link: %s", e.URL)
	}
	return fmt.Sprintf("invalid stream link: %s (%s)", e.URL, e.Reason)
}

// ChatEndedError reports a permanently closed live chat. It is a lifecycle
// event: callers deactivate the session instead of retrying.
type ChatEndedError struct {
	ChatChannelID string
}

func (e *ChatEndedError) Error() string {
	return fmt.Sprintf("live chat ended: %s", e.ChatChannelID)
}

// NoActiveStreamError reports that no stream session is active for a
// moderation session. Carries a user-facing message.
type NoActiveStreamError struct {
	SessionID string
}

func (e *NoActiveStreamError) Error() string {
	return "no active stream for this session; start one with a stream link first"
}

// IsChatEnded reports whether err is (or wraps) a ChatEndedError.
func IsChatEnded(err error) bool {
	var ce *ChatEndedError
	return errors.As(err, &ce)
}

// IsInvalidLink reports whether err is (or wraps) an InvalidLinkError.
func IsInvalidLink(err error) bool {
	var il *InvalidLinkError
	return errors.As(err, &il)
}

// apiReasons collects the error reasons from a googleapi.Error, if any.
func apiReasons(err error) []string {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return nil
	}
	out := make([]string, 0, len(ge.Errors))
	for _, item := range ge.Errors {
		out = append(out, item.Reason)
	}
	return out
}

// isChatEndedAPIError classifies YouTube API errors that mean the live chat is
// permanently gone (ended, disabled, or the chat resource no longer exists).
func isChatEndedAPIError(err error) bool {
	for _, reason := range apiReasons(err) {
		switch reason {
		case "liveChatEnded", "liveChatDisabled", "liveChatNotFound":
			return true
		}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Code == 404 {
		return true
	}
	return false
}

// isKeyExhaustedAPIError classifies errors that should rotate the API key:
// quota exhaustion and key-level auth failures.
func isKeyExhaustedAPIError(err error) bool {
	for _, reason := range apiReasons(err) {
		switch reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "keyInvalid", "accessNotConfigured":
			return true
		}
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch ge.Code {
		case 429:
			return true
		case 400, 403:
			lower := strings.ToLower(ge.Message)
			return strings.Contains(lower, "api key") || strings.Contains(lower, "quota")
		}
	}
	return false
}

// IsTransient reports whether an error is worth retrying on a later tick.
// Typed lifecycle and user errors are not transient; everything else
// (network failures, 5xx, rate limits) is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsChatEnded(err) || IsInvalidLink(err) {
		return false
	}
	var na *NoActiveStreamError
	if errors.As(err, &na) {
		return false
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code >= 500 || ge.Code == 429
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset", "connection refused", "timeout", "timed out",
		"temporary failure", "no route to host", "network unreachable",
		"eof", "broken pipe", "rate limit", "too many requests",
		"internal server error", "bad gateway", "service unavailable",
	} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return true
}

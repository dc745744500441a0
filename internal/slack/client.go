package slack

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Client wraps the slack client
type Client struct {
	api       poster
	channelID string
	log       zerolog.Logger
	limiter   *rate.Limiter
	clock     func() time.Time

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewClient creates a new slack client. It returns nil when Slack is not
// configured; every method is safe on a nil client.
func NewClient(token, channelID string, log zerolog.Logger) *Client {
	log = log.With().Str("component", "slack").Logger()
	if token == "" || channelID == "" {
		log.Info().Msg("slack token or channel ID is not configured, notifications disabled")
		return nil
	}
	return newClient(slack.New(token), channelID, log)
}

func newClient(api poster, channelID string, log zerolog.Logger) *Client {
	return &Client{
		api:       api,
		channelID: channelID,
		log:       log,
		// Slack allows roughly one message per second per channel
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		clock:   time.Now,
	}
}

// SendMessage sends a simple text message wrapped as an info block.
func (c *Client) SendMessage(message string) bool {
	return c.SendRichMessage(NewInfoMessage("Chamber Notification", message)...)
}

// SendRichMessage sends a block kit message. It reports false when the
// message was dropped by the local limiter, a rate limit backoff, or an API
// error.
func (c *Client) SendRichMessage(options ...slack.MsgOption) bool {
	if c == nil {
		return false
	}
	return c.post(c.channelID, options...)
}

// Reply posts to channelID instead of the notification channel, sharing the
// same limits.
func (c *Client) Reply(channelID string, options ...slack.MsgOption) bool {
	if c == nil {
		return false
	}
	return c.post(channelID, options...)
}

func (c *Client) post(channelID string, options ...slack.MsgOption) bool {
	if c.api == nil {
		return false
	}
	if c.IsRateLimited() {
		c.log.Debug().Msg("skipping slack message during rate limit backoff")
		return false
	}
	if !c.limiter.Allow() {
		c.log.Warn().Msg("slack message dropped by local rate limiter")
		return false
	}

	if _, _, err := c.api.PostMessage(channelID, options...); err != nil {
		if c.isRateLimitError(err) {
			c.handleRateLimit(err)
		} else {
			c.log.Error().Err(err).Msg("failed to send slack message")
		}
		return false
	}
	return true
}

// isRateLimitError checks if the error is related to rate limiting
func (c *Client) isRateLimitError(err error) bool {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate_limited") ||
		strings.Contains(errStr, "message_limit_exceeded") ||
		strings.Contains(errStr, "too_many_requests")
}

// handleRateLimit suspends sending for the period Slack asked for, or a
// fixed backoff when it did not say.
func (c *Client) handleRateLimit(err error) {
	backoff := time.Minute
	var rl *slack.RateLimitedError
	switch {
	case errors.As(err, &rl) && rl.RetryAfter > 0:
		backoff = rl.RetryAfter
	case strings.Contains(strings.ToLower(err.Error()), "message_limit_exceeded"):
		backoff = 5 * time.Minute
	}

	c.mu.Lock()
	c.backoffUntil = c.clock().Add(backoff)
	c.mu.Unlock()
	c.log.Warn().Err(err).Dur("backoff", backoff).Msg("slack rate limit detected, suppressing messages")
}

// IsRateLimited returns true if the client is currently in a rate limit backoff period
func (c *Client) IsRateLimited() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock().Before(c.backoffUntil)
}

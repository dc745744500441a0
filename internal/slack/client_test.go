package slack

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/prite36/growth-chamber-control/internal/lifecycle"
)

type fakePoster struct {
	calls int
	err   error
}

func (f *fakePoster) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	f.calls++
	return channelID, "1", f.err
}

func testClient(api poster, now *time.Time) *Client {
	c := newClient(api, "C123", zerolog.Nop())
	c.clock = func() time.Time { return *now }
	return c
}

func TestIsRateLimitError(t *testing.T) {
	client := &Client{}

	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "message_limit_exceeded error",
			err:      errors.New("message_limit_exceeded"),
			expected: true,
		},
		{
			name:     "rate_limited error",
			err:      errors.New("rate_limited"),
			expected: true,
		},
		{
			name:     "too_many_requests error",
			err:      errors.New("too_many_requests"),
			expected: true,
		},
		{
			name:     "typed rate limit error",
			err:      fmt.Errorf("post: %w", &slack.RateLimitedError{RetryAfter: 30 * time.Second}),
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
		{
			name:     "case insensitive",
			err:      errors.New("MESSAGE_LIMIT_EXCEEDED"),
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := client.isRateLimitError(tc.err)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v for error: %v", tc.expected, result, tc.err)
			}
		})
	}
}

func TestHandleRateLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	testCases := []struct {
		name     string
		err      error
		expected time.Duration
	}{
		{"message_limit_exceeded gets longer backoff", errors.New("message_limit_exceeded"), 5 * time.Minute},
		{"other rate limit errors get shorter backoff", errors.New("rate_limited"), time.Minute},
		{"retry after is honoured", &slack.RateLimitedError{RetryAfter: 20 * time.Second}, 20 * time.Second},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(&fakePoster{}, &now)
			client.handleRateLimit(tc.err)
			if got := client.backoffUntil.Sub(now); got != tc.expected {
				t.Errorf("Expected %v backoff, got %v", tc.expected, got)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	client := testClient(&fakePoster{}, &now)

	// Initially not rate limited
	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited initially")
	}

	client.handleRateLimit(errors.New("rate_limited"))
	if !client.IsRateLimited() {
		t.Error("Expected client to be rate limited after a rate limit error")
	}

	// Backoff expires
	now = now.Add(61 * time.Second)
	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited after the backoff elapsed")
	}
}

func TestSendSuppressedDuringBackoff(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	api := &fakePoster{err: errors.New("rate_limited")}
	client := testClient(api, &now)

	if client.SendMessage("first") {
		t.Fatal("Expected failed send to report false")
	}
	api.err = nil
	if client.SendMessage("second") {
		t.Error("Expected send during backoff to be skipped")
	}
	if api.calls != 1 {
		t.Errorf("Expected 1 API call, got %d", api.calls)
	}

	now = now.Add(2 * time.Minute)
	if !client.SendMessage("third") {
		t.Error("Expected send after backoff to succeed")
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var client *Client
	if client.SendMessage("hello") {
		t.Error("Expected nil client to drop messages")
	}
	if client.IsRateLimited() {
		t.Error("Expected nil client to not be rate limited")
	}

	n := NewNotifier(nil)
	n.SweepFinished(lifecycle.Report{Failures: []*lifecycle.TransitionError{{Transition: lifecycle.Transition{ScheduleID: "s1"}}}})
}

func TestNotifierSkipsCleanSweeps(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	api := &fakePoster{}
	n := NewNotifier(testClient(api, &now))

	n.SweepFinished(lifecycle.Report{})
	if api.calls != 0 {
		t.Errorf("Expected no message for a clean sweep, got %d", api.calls)
	}
	n.SweepFinished(lifecycle.Report{Failures: []*lifecycle.TransitionError{{Transition: lifecycle.Transition{ScheduleID: "s1"}, Err: errors.New("boom")}}})
	if api.calls != 1 {
		t.Errorf("Expected 1 message for a failed sweep, got %d", api.calls)
	}
}

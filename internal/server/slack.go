package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	slacknotify "github.com/prite36/growth-chamber-control/internal/slack"
)

// slackEvents handles the Slack Events API. Requests are checked against
// the signing secret before anything else.
func (h *Handlers) slackEvents(w http.ResponseWriter, r *http.Request) {
	verifier, err := slack.NewSecretsVerifier(r.Header, h.cfg.SigningSecret)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to create secrets verifier")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read request body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		h.log.Error().Err(err).Msg("failed to write body to verifier")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		h.log.Warn().Err(err).Msg("invalid Slack signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to parse Slack event")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(challenge.Challenge))
		h.log.Info().Msg("responded to Slack URL verification challenge")
	case slackevents.CallbackEvent:
		if mention, ok := event.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
			// Slack retries events not acknowledged within three seconds
			go h.answerMention(mention.Channel)
		} else {
			h.log.Debug().Str("type", event.InnerEvent.Type).Msg("ignoring Slack callback event")
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handlers) answerMention(channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.Slack.Reply(channel, slacknotify.NewInfoMessage("Current steps", h.currentStepsText(ctx))...)
}

// currentStepsText renders one line per chamber.
func (h *Handlers) currentStepsText(ctx context.Context) string {
	chambers, err := h.Catalog.ListChambers(ctx)
	if err != nil {
		return "Could not list chambers: " + err.Error()
	}
	if len(chambers) == 0 {
		return "No chambers configured."
	}
	now := h.clock().Unix()
	lines := make([]string, 0, len(chambers))
	for _, c := range chambers {
		res, err := h.Schedules.CurrentStep(ctx, c.ID, now)
		if err != nil {
			lines = append(lines, "*"+c.Name+"*: unavailable ("+err.Error()+")")
			continue
		}
		lines = append(lines, slacknotify.FormatResolution(res))
	}
	return strings.Join(lines, "\n")
}

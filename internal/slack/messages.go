package slack

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/prite36/growth-chamber-control/internal/dispatch"
	"github.com/prite36/growth-chamber-control/internal/lifecycle"
)

func message(title, emoji, body string) []slack.MsgOption {
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, emoji+" "+title, true, false))
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil)
	footer := slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType,
		time.Now().Format("2006-01-02 15:04:05 MST"), false, false))
	return []slack.MsgOption{
		slack.MsgOptionText(title+": "+body, false),
		slack.MsgOptionBlocks(header, section, footer),
	}
}

func NewInfoMessage(title, body string) []slack.MsgOption {
	return message(title, ":information_source:", body)
}

func NewErrorMessage(title, body string) []slack.MsgOption {
	return message(title, ":rotating_light:", body)
}

// NewTransitionMessage announces a schedule status change.
func NewTransitionMessage(t lifecycle.Transition) []slack.MsgOption {
	emoji := ":arrow_forward:"
	switch t.To {
	case lifecycle.StatusCompleted:
		emoji = ":white_check_mark:"
	case lifecycle.StatusCancelled:
		emoji = ":no_entry_sign:"
	}
	return message("Schedule "+string(t.To), emoji,
		fmt.Sprintf("Schedule `%s` moved from *%s* to *%s*", t.ScheduleID, t.From, t.To))
}

// NewSweepFailureMessage lists the writes a monitor sweep could not complete.
func NewSweepFailureMessage(failures []*lifecycle.TransitionError) []slack.MsgOption {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "• %s\n", f.Error())
	}
	return NewErrorMessage("Lifecycle sweep incomplete", b.String())
}

// FormatResolution renders one chamber's current step as markdown.
func FormatResolution(res dispatch.Resolution) string {
	name := res.ChamberName
	if name == "" {
		name = res.ChamberID
	}
	if !res.Current.Active {
		return fmt.Sprintf("*%s*: idle", name)
	}
	cur := res.Current
	var parts []string
	if v := cur.Step.Temperature; v != nil {
		parts = append(parts, fmt.Sprintf("%d°C", *v))
	}
	if v := cur.Step.Humidity; v != nil {
		parts = append(parts, fmt.Sprintf("%d%% RH", *v))
	}
	if v := cur.Step.CO2; v != nil {
		parts = append(parts, fmt.Sprintf("%d ppm CO2", *v))
	}
	if len(cur.Step.LightSectors) > 0 {
		parts = append(parts, fmt.Sprintf("light %v", cur.Step.LightSectors))
	}
	remaining := (time.Duration(cur.TimeRemaining) * time.Second).String()
	return fmt.Sprintf("*%s*: %s (%s) step %d, %s, next change in %s",
		name, res.ScheduleName, cur.ScenarioName, cur.StepIndex, strings.Join(parts, ", "), remaining)
}

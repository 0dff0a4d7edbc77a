package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	client     *http.Client
}

type SlackOption func(*SlackNotifier)

func WithSlackChannel(channel string) SlackOption {
	return func(s *SlackNotifier) {
		s.channel = channel
	}
}

func WithSlackUsername(username string) SlackOption {
	return func(s *SlackNotifier) {
		s.username = username
	}
}

func WithSlackClient(client *http.Client) SlackOption {
	return func(s *SlackNotifier) {
		s.client = client
	}
}

func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		username:   "specrun",
		iconEmoji:  ":test_tube:",
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackNotifier) Notify(ctx context.Context, summary *Summary) error {
	color, title := "good", ":white_check_mark: All cases passed"
	switch {
	case !summary.OK():
		color = "danger"
		title = fmt.Sprintf(":x: %d case(s) failed", summary.Failed+summary.Errored)
	case summary.IsRecovery:
		title = ":tada: Cases recovered"
	}
	if summary.Partial {
		title += " (run cancelled, results are partial)"
	}

	fields := []slackField{
		{Title: "Total", Value: fmt.Sprint(summary.Total), Short: true},
		{Title: "Passed", Value: fmt.Sprint(summary.Passed), Short: true},
		{Title: "Failed", Value: fmt.Sprint(summary.Failed), Short: true},
		{Title: "Errored", Value: fmt.Sprint(summary.Errored), Short: true},
		{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String(), Short: true},
	}

	var text strings.Builder
	failures, more := summary.listed()
	for _, f := range failures {
		fmt.Fprintf(&text, "• `%s`\n", f)
	}
	if more > 0 {
		fmt.Fprintf(&text, "…and %d more\n", more)
	}

	return postJSON(ctx, s.client, s.webhookURL, slackMessage{
		Channel:   s.channel,
		Username:  s.username,
		IconEmoji: s.iconEmoji,
		Attachments: []slackAttachment{{
			Color:  color,
			Title:  title,
			Text:   text.String(),
			Fields: fields,
			Footer: "specrun",
			TS:     time.Now().Unix(),
		}},
	})
}

package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TeamsNotifier posts an Adaptive Card to a Microsoft Teams webhook.
type TeamsNotifier struct {
	webhookURL string
	client     *http.Client
}

type TeamsOption func(*TeamsNotifier)

func WithTeamsClient(client *http.Client) TeamsOption {
	return func(t *TeamsNotifier) {
		t.client = client
	}
}

func NewTeamsNotifier(webhookURL string, opts ...TeamsOption) *TeamsNotifier {
	t := &TeamsNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TeamsNotifier) Name() string {
	return "teams"
}

type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

type teamsBlock struct {
	Type   string      `json:"type"`
	Text   string      `json:"text,omitempty"`
	Size   string      `json:"size,omitempty"`
	Weight string      `json:"weight,omitempty"`
	Color  string      `json:"color,omitempty"`
	Wrap   bool        `json:"wrap,omitempty"`
	Facts  []teamsFact `json:"facts,omitempty"`
}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

func (t *TeamsNotifier) Notify(ctx context.Context, summary *Summary) error {
	color, title := "Good", "All cases passed"
	switch {
	case !summary.OK():
		color = "Attention"
		title = fmt.Sprintf("%d case(s) failed", summary.Failed+summary.Errored)
	case summary.IsRecovery:
		title = "Cases recovered"
	}

	body := []teamsBlock{
		{Type: "TextBlock", Text: title, Size: "Large", Weight: "Bolder", Color: color, Wrap: true},
		{Type: "FactSet", Facts: []teamsFact{
			{Title: "Total", Value: fmt.Sprint(summary.Total)},
			{Title: "Passed", Value: fmt.Sprint(summary.Passed)},
			{Title: "Failed", Value: fmt.Sprint(summary.Failed)},
			{Title: "Errored", Value: fmt.Sprint(summary.Errored)},
			{Title: "Duration", Value: summary.Duration.Round(time.Millisecond).String()},
		}},
	}
	if summary.Partial {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "Run cancelled: results are partial", Color: "Warning", Wrap: true})
	}

	failures, more := summary.listed()
	for _, f := range failures {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "- " + f.String(), Wrap: true})
	}
	if more > 0 {
		body = append(body, teamsBlock{Type: "TextBlock", Text: fmt.Sprintf("and %d more", more), Wrap: true})
	}

	return postJSON(ctx, t.client, t.webhookURL, teamsMessage{
		Type: "message",
		Attachments: []teamsCard{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
			},
		}},
	})
}

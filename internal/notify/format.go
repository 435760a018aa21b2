package notify

import (
	"encoding/json"
	"fmt"

	"github.com/Mutual-Roots/Ford-Perfect/internal/model"
)

// FormatPayload renders event as the request body for cfg.Format.
// Unknown formats fall back to the generic event JSON.
func FormatPayload(cfg WebhookConfig, event Event) ([]byte, error) {
	switch cfg.Format {
	case FormatSlack:
		return json.Marshal(slackMessage(event))
	case FormatPagerDuty:
		return json.Marshal(pagerDutyEvent(cfg.RoutingKey, event))
	default:
		return json.Marshal(event)
	}
}

// Headline is the one-line description used as a title by chat formats.
func Headline(event Event) string {
	s := "warden: " + string(event.Type)
	switch {
	case event.Decision != "":
		s += " " + string(event.Decision)
	case event.State != "":
		s += " " + event.State
	}
	return s
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func slackMessage(event Event) slackPayload {
	field := func(label, value string) slackText {
		if value == "" {
			value = "-"
		}
		return slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:* %s", label, value)}
	}
	fields := []slackText{
		field("What", event.What),
		field("Tier", string(event.Tier)),
		field("Reason", event.Reason),
	}
	if event.PendingID != "" {
		fields = append(fields, field("Pending", "`"+event.PendingID+"`"))
	}
	if event.Deadline != nil {
		fields = append(fields, field("Auto-approves at", event.Deadline.UTC().Format("15:04:05 UTC")))
	}
	if event.RecordID != "" {
		fields = append(fields, field("Record", "`"+event.RecordID+"`"))
	}

	title := Headline(event)
	msg := slackPayload{
		Text: title,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
			{Type: "section", Fields: fields},
		},
	}
	if event.Detail != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "```" + event.Detail + "```"},
		})
	}
	return msg
}

type pagerDutyPayload struct {
	RoutingKey  string           `json:"routing_key,omitempty"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	Payload     pagerDutyDetails `json:"payload"`
}

type pagerDutyDetails struct {
	Summary       string `json:"summary"`
	Severity      string `json:"severity"`
	Source        string `json:"source"`
	Timestamp     string `json:"timestamp,omitempty"`
	CustomDetails Event  `json:"custom_details"`
}

// severity maps an event onto the PagerDuty scale.
func severity(event Event) string {
	switch {
	case event.Type == StorageFault || event.Tier == model.TierCritical:
		return "critical"
	case event.Tier == model.TierHigh || event.Type == StateChanged:
		return "error"
	case event.Tier == model.TierMedium:
		return "warning"
	default:
		return "info"
	}
}

func pagerDutyEvent(routingKey string, event Event) pagerDutyPayload {
	summary := Headline(event)
	if event.What != "" {
		summary += ": " + event.What
	}
	p := pagerDutyPayload{
		RoutingKey:  routingKey,
		EventAction: "trigger",
		DedupKey:    event.PendingID,
		Payload: pagerDutyDetails{
			Summary:       summary,
			Severity:      severity(event),
			Source:        "warden",
			CustomDetails: event,
		},
	}
	if p.DedupKey == "" {
		p.DedupKey = event.RecordID
	}
	if !event.Timestamp.IsZero() {
		p.Payload.Timestamp = event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return p
}

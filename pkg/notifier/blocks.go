package notifier

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/railwatch/railwatch/pkg/models"
)

// Button action ids carried in interactive payloads. Each button value is
// "<action_id>:<incident_id>", except confirm buttons, which name the
// action to run: "confirm:<incident_id>:<action_name>".
const (
	ActionAutoFix       = "auto_fix"
	ActionStartChat     = "start_chat"
	ActionIgnore        = "ignore"
	ActionConfirm       = "confirm"
	ActionCancelAutoFix = "cancel_auto_fix"
)

var severityMarkers = map[models.Severity]string{
	models.SeverityCritical: "🔴",
	models.SeverityHigh:     "🟠",
	models.SeverityMedium:   "🟡",
	models.SeverityLow:      "🔵",
}

// buildAlertBlocks renders the incident alert: header, detail fields,
// root cause body, and the action row.
func buildAlertBlocks(inc *models.Incident) []slack.Block {
	marker := severityMarkers[inc.Severity]
	if marker == "" {
		marker = "⚪"
	}

	header := slack.NewHeaderBlock(slack.NewTextBlockObject(
		slack.PlainTextType,
		fmt.Sprintf("%s Incident: %s", marker, inc.ServiceName),
		true, false))

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Service:*\n%s", inc.ServiceName), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Severity:*\n%s %s", marker, inc.Severity), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Confidence:*\n%.0f%%", inc.Confidence*100), false, false),
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("*Detected:*\n%s", inc.DetectedAt.Format("2006-01-02 15:04:05 UTC")), false, false),
	}
	fieldSection := slack.NewSectionBlock(nil, fields, nil)

	var body strings.Builder
	if inc.RootCause != "" {
		fmt.Fprintf(&body, "*Root cause:* %s\n", inc.RootCause)
	}
	if inc.RecommendedAction != "" && inc.RecommendedAction != models.ActionTypeNone {
		fmt.Fprintf(&body, "*Recommended action:* `%s`", inc.RecommendedAction)
	}
	if body.Len() == 0 {
		body.WriteString("No classification details available.")
	}
	bodySection := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, body.String(), false, false), nil, nil)

	actions := slack.NewActionBlock("incident_actions",
		button(ActionAutoFix, inc.ID, "Auto-Fix", slack.StylePrimary),
		button(ActionStartChat, inc.ID, "Start Chat", slack.StyleDefault),
		button(ActionIgnore, inc.ID, "Ignore", slack.StyleDanger),
	)

	return []slack.Block{header, fieldSection, bodySection, actions}
}

// buildConfirmBlocks renders the auto-fix confirmation message.
func buildConfirmBlocks(inc *models.Incident, recommendation string) []slack.Block {
	text := fmt.Sprintf("*Proposed fix for %s:* `%s`\n%s",
		inc.ServiceName, inc.RecommendedAction, recommendation)

	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)

	confirmValue := ActionConfirm + ":" + inc.ID + ":" + string(inc.RecommendedAction)
	confirm := slack.NewButtonBlockElement(ActionConfirm, confirmValue,
		slack.NewTextBlockObject(slack.PlainTextType, "Confirm", false, false))
	confirm.WithStyle(slack.StylePrimary)

	actions := slack.NewActionBlock("confirm_actions",
		confirm,
		button(ActionCancelAutoFix, inc.ID, "Cancel", slack.StyleDanger),
	)

	return []slack.Block{section, actions}
}

func button(actionID, incidentID, label string, style slack.Style) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(actionID, actionID+":"+incidentID,
		slack.NewTextBlockObject(slack.PlainTextType, label, false, false))
	if style != slack.StyleDefault {
		btn.WithStyle(style)
	}
	return btn
}

// ParseButtonValue decodes a button value. The general form is
// "<action_id>:<incident_id>"; confirm presses carry the action to run as
// a third segment, "confirm:<incident_id>:<action_name>", returned in arg.
func ParseButtonValue(value string) (actionID, incidentID, arg string, ok bool) {
	actionID, rest, found := strings.Cut(value, ":")
	if !found || actionID == "" || rest == "" {
		return "", "", "", false
	}
	if actionID == ActionConfirm {
		id, action, _ := strings.Cut(rest, ":")
		if id == "" {
			return "", "", "", false
		}
		return actionID, id, action, true
	}
	return actionID, rest, "", true
}

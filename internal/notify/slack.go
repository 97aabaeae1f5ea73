package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackClient is the subset of the Slack API used here.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Slack struct {
	client    slackClient
	channelID string
}

func NewSlack(botToken, channelID string) *Slack {
	return &Slack{client: slack.New(botToken), channelID: channelID}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Notify(ctx context.Context, n Notification) error {
	color := "#2eb886"
	if n.Kind == KindTimedOut {
		color = "#d50200"
	}
	attachment := slack.Attachment{
		Color: color,
		Title: Title(n),
		Text:  n.Session.InitialMessage,
		Fields: []slack.AttachmentField{
			{Title: "Session", Value: n.Session.ID, Short: true},
			{Title: "Conversation", Value: n.Session.ConversationID, Short: true},
		},
	}
	if who := requesterLabel(n.Session); who != "" {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{Title: "From", Value: who, Short: true})
	}

	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(Title(n), false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", s.channelID, err)
	}
	return nil
}

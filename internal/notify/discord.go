package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the subset of discordgo.Session used here.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Discord struct {
	session   discordSession
	channelID string
}

// NewDiscord creates a REST-only Discord notifier; no gateway connection is opened.
func NewDiscord(botToken, channelID string) (*Discord, error) {
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Discord{session: dg, channelID: channelID}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Notify(ctx context.Context, n Notification) error {
	color := 0x2eb886
	if n.Kind == KindTimedOut {
		color = 0xd50200
	}
	embed := &discordgo.MessageEmbed{
		Title:       Title(n),
		Description: n.Session.InitialMessage,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Session", Value: n.Session.ID, Inline: true},
			{Name: "Conversation", Value: n.Session.ConversationID, Inline: true},
		},
	}
	if who := requesterLabel(n.Session); who != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "From", Value: who, Inline: true})
	}

	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send to %s: %w", d.channelID, err)
	}
	return nil
}

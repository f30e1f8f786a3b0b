package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor abstracts the discordgo.Session method we use, enabling
// test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts to a Discord webhook.
type DiscordSink struct {
	id    string
	token string
	exec  webhookExecutor
}

// NewDiscord returns a sink for a webhook given as "<id>/<token>".
func NewDiscord(webhook string) (*DiscordSink, error) {
	id, token, ok := strings.Cut(webhook, "/")
	if !ok || id == "" || token == "" {
		return nil, fmt.Errorf("notify: discord webhook must be <id>/<token>")
	}
	// Webhook execution is authorized by the token in the URL.
	sess, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord session: %w", err)
	}
	return &DiscordSink{id: id, token: token, exec: sess}, nil
}

func (d *DiscordSink) Name() string { return "discord" }

// Send posts evt as a single embed.
func (d *DiscordSink) Send(ctx context.Context, evt FormattedEvent) error {
	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{eventToEmbed(evt)},
	}
	_, err := d.exec.WebhookExecute(d.id, d.token, false, params, discordgo.WithContext(ctx))
	return err
}

func eventToEmbed(evt FormattedEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
	}
	if evt.Color != "" {
		embed.Color = parseHexColor(evt.Color)
	}
	for _, f := range evt.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

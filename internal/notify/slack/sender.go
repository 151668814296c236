// Package slack delivers incident communications via the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/incident-warden/internal/notify"
	"github.com/slack-go/slack"
)

// Config holds slack gateway configuration.
type Config struct {
	Enabled  bool
	BotToken string
}

// Gateway implements notify.Gateway on top of the Slack Web API.
type Gateway struct {
	config Config
	client *slack.Client
}

// NewGateway creates a new slack gateway.
// Returns error if enabled but required config is missing.
func NewGateway(config Config) (*Gateway, error) {
	if config.Enabled && config.BotToken == "" {
		return nil, errors.New("slack gateway: bot token is required when enabled")
	}

	g := &Gateway{config: config}
	if config.Enabled {
		g.client = slack.New(config.BotToken)
	}

	slog.Info("slack gateway configured", "enabled", config.Enabled)
	return g, nil
}

// Post delivers a message to a channel and returns "channel/timestamp"
// as the message reference.
func (g *Gateway) Post(ctx context.Context, msg notify.Message) (string, error) {
	if !g.config.Enabled {
		slog.Debug("slack gateway disabled, dropping message", "target", msg.Target)
		return "", nil
	}

	opts := []slack.MsgOption{}
	if msg.Title != "" || msg.Color != "" {
		opts = append(opts, slack.MsgOptionAttachments(slack.Attachment{
			Color: msg.Color,
			Title: msg.Title,
			Text:  msg.Text,
		}))
	} else {
		opts = append(opts, slack.MsgOptionText(msg.Text, false))
	}

	channel, timestamp, err := g.client.PostMessageContext(ctx, msg.Target, opts...)
	if err != nil {
		return "", fmt.Errorf("post slack message: %w", err)
	}

	return fmt.Sprintf("%s/%s", channel, timestamp), nil
}

// PostEphemeral delivers a message visible only to one user.
func (g *Gateway) PostEphemeral(ctx context.Context, target, user, text string) error {
	if !g.config.Enabled {
		return nil
	}

	_, err := g.client.PostEphemeralContext(ctx, target, user, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post ephemeral slack message: %w", err)
	}
	return nil
}

// CreateChannel creates a public channel and returns its id and archive
// permalink.
func (g *Gateway) CreateChannel(ctx context.Context, name string) (string, string, error) {
	if !g.config.Enabled {
		return "", "", nil
	}

	channel, err := g.client.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: name,
	})
	if err != nil {
		return "", "", fmt.Errorf("create slack channel: %w", err)
	}

	link := fmt.Sprintf("https://slack.com/archives/%s", channel.ID)
	return channel.ID, link, nil
}

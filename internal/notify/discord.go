package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordMaxContent is the webhook content limit.
const discordMaxContent = 2000

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender. username overrides the webhook's
// display name when non-empty.
func NewDiscordSender(webhookURL, username string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   username,
		client:     newHTTPClient(),
	}
}

// Send posts the bold title and the message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"content": truncate(fmt.Sprintf("**%s**\n%s", title, message), discordMaxContent),
	}
	if d.username != "" {
		payload["username"] = d.username
	}
	if err := postJSON(ctx, d.client, d.webhookURL, payload); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}

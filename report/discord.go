package report

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// QueueError describes a job that exhausted its attempts.
type QueueError struct {
	QueueName    string
	ErrorMessage string
	JobID        string
	ShopID       int64
	Attempts     int
	StackTrace   string
}

// Notifier posts job failures to a chat channel.
type Notifier interface {
	PostQueueError(ctx context.Context, e QueueError) error
}

// NopNotifier drops every message. It is used when no webhook is configured.
type NopNotifier struct{}

// PostQueueError implements Notifier.
func (NopNotifier) PostQueueError(context.Context, QueueError) error { return nil }

// webhookExecutor is implemented by *discordgo.Session.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts to Discord webhooks.
type Discord struct {
	session webhookExecutor
	// webhook is the default webhook of PostQueueError, "<id>/<token>".
	webhookID, token string
}

// NewDiscord creates a Discord client posting failures to webhookURL.
func NewDiscord(webhookURL string) (*Discord, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	return newDiscord(session, webhookURL)
}

func newDiscord(session webhookExecutor, webhookURL string) (*Discord, error) {
	d := &Discord{session: session}
	if webhookURL == "" {
		return d, nil
	}
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	d.webhookID, d.token = id, token
	return d, nil
}

// NewNotifier returns a Discord notifier, or a NopNotifier when webhookURL is
// empty.
func NewNotifier(webhookURL string) (Notifier, error) {
	if webhookURL == "" {
		return NopNotifier{}, nil
	}
	return NewDiscord(webhookURL)
}

// ParseWebhookURL splits a webhook URL into its id and token.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", errors.Wrap(err, "parse webhook url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.Errorf("not a webhook url: %s", raw)
}

// PostQueueError implements Notifier.
func (d *Discord) PostQueueError(ctx context.Context, e QueueError) error {
	if d.webhookID == "" {
		return errors.New("no discord webhook configured")
	}
	_, err := d.session.WebhookExecute(d.webhookID, d.token, false, queueErrorMessage(e), discordgo.WithContext(ctx))
	return errors.Wrap(err, "post queue error")
}

// Post sends content to the webhook at webhookURL.
func (d *Discord) Post(ctx context.Context, webhookURL, content string, embeds ...*discordgo.MessageEmbed) error {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return err
	}
	_, err = d.session.WebhookExecute(id, token, false, &discordgo.WebhookParams{Content: content, Embeds: embeds}, discordgo.WithContext(ctx))
	return errors.Wrap(err, "post webhook")
}

// maxStack keeps the stack trace within the embed description limit.
const maxStack = 3500

func queueErrorMessage(e QueueError) *discordgo.WebhookParams {
	stack := e.StackTrace
	if len(stack) > maxStack {
		stack = stack[:maxStack] + "..."
	}
	return &discordgo.WebhookParams{
		Content: fmt.Sprintf("Job failed on queue **%s**", e.QueueName),
		Embeds: []*discordgo.MessageEmbed{{
			Title:       e.ErrorMessage,
			Description: "```\n" + stack + "\n```",
			Color:       0xe74c3c,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Queue", Value: e.QueueName, Inline: true},
				{Name: "Job", Value: e.JobID, Inline: true},
				{Name: "Shop", Value: fmt.Sprint(e.ShopID), Inline: true},
				{Name: "Attempts", Value: fmt.Sprint(e.Attempts), Inline: true},
			},
		}},
	}
}

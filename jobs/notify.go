package jobs

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/go-kit/kit/log/level"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/mailer"
)

// EmailJob is the payload of the email queue.
type EmailJob struct {
	ShopID  int64  `json:"shopId,omitempty"`
	To      string `json:"to"`
	ToName  string `json:"toName,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// EmailProcessor sends email. Its queue does not recover stalled jobs so that
// a message is never sent twice.
type EmailProcessor struct {
	Common
	Sender mailer.Sender
}

// QueueName implements queue.Processor.
func (p *EmailProcessor) QueueName() string {
	return queue.Email
}

// Process implements queue.Processor.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in EmailJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	logger := p.logger(job)
	id, err := p.Sender.Send(ctx, mailer.Message{
		To:      in.To,
		ToName:  in.ToName,
		Subject: in.Subject,
		Text:    in.Text,
		HTML:    in.HTML,
	})
	if err != nil {
		return p.fail(job, logger, err)
	}
	_ = level.Info(logger).Log("msg", "email sent", "id", id)
	return job.Progress(ctx, 100)
}

// DiscordJob is the payload of the discordWebhook queue.
type DiscordJob struct {
	ShopID  int64  `json:"shopId,omitempty"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Poster posts to a Discord webhook. *report.Discord implements it.
type Poster interface {
	Post(ctx context.Context, webhookURL, content string, embeds ...*discordgo.MessageEmbed) error
}

// DiscordProcessor posts shop notifications to their Discord webhook.
type DiscordProcessor struct {
	Common
	Poster Poster
}

// QueueName implements queue.Processor.
func (p *DiscordProcessor) QueueName() string {
	return queue.DiscordWebhook
}

// Process implements queue.Processor.
func (p *DiscordProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in DiscordJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	if err := p.Poster.Post(ctx, in.URL, in.Content); err != nil {
		return p.fail(job, p.logger(job), err)
	}
	return job.Progress(ctx, 100)
}

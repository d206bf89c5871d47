package jobs

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/mailer"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "id-1", nil
}

type fakePoster struct {
	url, content string
}

func (f *fakePoster) Post(ctx context.Context, webhookURL, content string, embeds ...*discordgo.MessageEmbed) error {
	f.url, f.content = webhookURL, content
	return nil
}

func TestEmailProcessor(t *testing.T) {
	sender := &fakeMailer{}
	p := &EmailProcessor{Sender: sender}
	job := newJob(queue.Email, queue.Payload{"to": "a@example.com", "subject": "hi", "text": "hello"})
	require.NoError(t, p.Process(context.Background(), job))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "a@example.com", sender.sent[0].To)
	assert.Equal(t, 100, job.CurrentProgress())

	tracker := &recordingTracker{}
	p = &EmailProcessor{Common: Common{Tracker: tracker}, Sender: &fakeMailer{err: mailer.ErrNotConfigured}}
	err := p.Process(context.Background(), newJob(queue.Email, queue.Payload{"to": "a@example.com"}))
	assert.True(t, errors.Is(err, mailer.ErrNotConfigured))
	assert.Len(t, tracker.errs, 1)
}

func TestDiscordProcessor(t *testing.T) {
	poster := &fakePoster{}
	p := &DiscordProcessor{Poster: poster}
	job := newJob(queue.DiscordWebhook, queue.Payload{"url": "https://discord.com/api/webhooks/1/t", "content": "new order"})
	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, "https://discord.com/api/webhooks/1/t", poster.url)
	assert.Equal(t, "new order", poster.content)
}

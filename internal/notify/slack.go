package notify

import (
	"context"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/jobs"
)

// SlackAnnouncer posts job notices to one Slack channel.
type SlackAnnouncer struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackAnnouncer creates a Slack announcer. botToken is the Bot User
// OAuth Token (xoxb-...).
func NewSlackAnnouncer(botToken, channel string, logger *zap.Logger) *SlackAnnouncer {
	return &SlackAnnouncer{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (a *SlackAnnouncer) Platform() string { return "slack" }

// Announce posts the terminal-job notice.
func (a *SlackAnnouncer) Announce(ctx context.Context, job jobs.Job) error {
	_, _, err := a.client.PostMessageContext(ctx, a.channel,
		slack.MsgOptionText(message(job), false),
	)
	return err
}

// Close is a no-op; the Slack client is connectionless.
func (a *SlackAnnouncer) Close() error { return nil }

package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/nidhogg/agent-studio/internal/jobs"
)

// DiscordAnnouncer posts job notices to one Discord channel.
type DiscordAnnouncer struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordAnnouncer opens a Discord session for the bot token.
func NewDiscordAnnouncer(botToken, channelID string, logger *zap.Logger) (*DiscordAnnouncer, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordAnnouncer{session: session, channelID: channelID, logger: logger}, nil
}

func (a *DiscordAnnouncer) Platform() string { return "discord" }

// Announce posts the terminal-job notice.
func (a *DiscordAnnouncer) Announce(_ context.Context, job jobs.Job) error {
	_, err := a.session.ChannelMessageSend(a.channelID, message(job))
	return err
}

// Close shuts the Discord session down.
func (a *DiscordAnnouncer) Close() error {
	return a.session.Close()
}

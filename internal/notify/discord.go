package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordNotifier posts notifications to a Discord channel over the REST
// API; no gateway websocket is opened since the channel is outbound only.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

// NewDiscordNotifier creates a notifier for one channel using a bot token.
func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

// Send posts the notification as a single message.
func (d *DiscordNotifier) Send(ctx context.Context, n *Notification) error {
	content := fmt.Sprintf("**%s**\n%s", n.Subject, n.Body)
	if n.Recipient != "" {
		content = fmt.Sprintf("**%s** — %s\n%s", n.Subject, n.Recipient, n.Body)
	}
	_, err := d.session.ChannelMessageSend(d.channelID, content,
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord post: %w", err)
	}
	d.logger.Debug("discord notification sent",
		zap.String("channel", d.channelID),
		zap.String("subject", n.Subject))
	return nil
}

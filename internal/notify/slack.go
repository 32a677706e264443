package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts notifications to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier for one channel using a bot token
// (xoxb-...).
func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

// Send posts the notification as a single message.
func (s *SlackNotifier) Send(ctx context.Context, n *Notification) error {
	text := fmt.Sprintf("*%s*\n%s", n.Subject, n.Body)
	if n.Recipient != "" {
		text = fmt.Sprintf("*%s* — %s\n%s", n.Subject, n.Recipient, n.Body)
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	s.logger.Debug("slack notification sent",
		zap.String("channel", s.channel),
		zap.String("subject", n.Subject))
	return nil
}

package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/hirewire/whatsapp-agent/pkg/logging"
)

type sesSendAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails admin notices via AWS SES.
type SESNotifier struct {
	client   sesSendAPI
	to       string
	from     string
	fromName string
	logger   *logging.Logger
}

// SESConfig holds the sender and recipient addresses.
type SESConfig struct {
	AdminEmail string
	FromEmail  string
	FromName   string
}

func NewSESNotifier(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESNotifier {
	if client == nil {
		return nil
	}
	return newSESNotifier(client, cfg, logger)
}

func newSESNotifier(client sesSendAPI, cfg SESConfig, logger *logging.Logger) *SESNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Hirewire Agent"
	}
	return &SESNotifier{
		client:   client,
		to:       cfg.AdminEmail,
		from:     cfg.FromEmail,
		fromName: cfg.FromName,
		logger:   logger,
	}
}

// NotifyAdmin sends one notice as a plain-text email.
func (n *SESNotifier) NotifyAdmin(ctx context.Context, notice AdminNotice) error {
	if n == nil || n.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}
	subject := fmt.Sprintf("[%s] agent alert for conversation %s", notice.Severity, notice.ConversationID)
	body := fmt.Sprintf("Severity: %s\nConversation: %s\n\n%s\n", notice.Severity, notice.ConversationID, notice.Text)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", n.fromName, n.from)),
		Destination: &types.Destination{
			ToAddresses: []string{n.to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body)},
				},
			},
		},
	}
	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("notify: send admin email: %w", err)
	}
	n.logger.Info("admin notice sent", "severity", notice.Severity, "conversation_id", notice.ConversationID)
	return nil
}

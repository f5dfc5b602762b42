package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/config"
)

// Notifier delivers a single email. Implementations must be safe for
// concurrent use by the dispatcher worker.
type Notifier interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type sesNotifier struct {
	client *ses.Client
	sender string
}

// NewSESNotifier builds a Notifier backed by AWS SES.
func NewSESNotifier(ctx context.Context, cfg config.EmailConfig) (Notifier, error) {
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("sender email address is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	return &sesNotifier{
		client: ses.NewFromConfig(awsCfg),
		sender: cfg.SenderAddress,
	}, nil
}

func (n *sesNotifier) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return fmt.Errorf("recipient email address is empty")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(htmlBody),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	return nil
}

type logNotifier struct{}

// NewLogNotifier returns a Notifier that only logs. Used when SES is not
// configured (local development, tests).
func NewLogNotifier() Notifier {
	return logNotifier{}
}

func (logNotifier) Send(_ context.Context, to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("notify: email delivery skipped (no notifier configured)")
	return nil
}

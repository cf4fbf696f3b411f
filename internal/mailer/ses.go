package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/rebel-tools/groupsync/internal/appconfig"
	awsclient "github.com/rebel-tools/groupsync/internal/aws"
)

// SESAPI is the subset of the SES v2 client used for notifications.
type SESAPI interface {
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

func sesFactory(cfg appconfig.BotEmailConfig) TransportFactory {
	return func(ctx context.Context, _ string) (Transport, error) {
		awsCfg, err := awsclient.LoadAWSConfig(ctx, cfg.Region)
		if err != nil {
			return nil, err
		}
		return NewSESTransport(awsclient.NewSESClient(awsCfg)), nil
	}
}

// SESTransport sends through Amazon SES using the ambient AWS credentials.
type SESTransport struct {
	client SESAPI
}

func NewSESTransport(client SESAPI) *SESTransport {
	return &SESTransport{client: client}
}

// Verify checks that the account may send email at all.
func (t *SESTransport) Verify(ctx context.Context) error {
	out, err := t.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return describe(err)
	}
	if !out.SendingEnabled {
		return errors.New("sending is disabled for this SES account")
	}
	return nil
}

func (t *SESTransport) Send(ctx context.Context, msg Message) error {
	content := &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	body := &types.Body{Text: content}
	if msg.HTML {
		body = &types.Body{Html: content}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}

	if _, err := t.client.SendEmail(ctx, input); err != nil {
		return describe(err)
	}
	return nil
}

func describe(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("ses %s: %s: %w", apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return err
}

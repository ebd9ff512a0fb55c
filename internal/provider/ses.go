package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/campaign-orchestrator/internal/domain"
	"github.com/ignite/campaign-orchestrator/internal/pkg/logger"
)

// sesAPI is the subset of the SESv2 client the sender uses. Narrowed to an
// interface so tests can stub the AWS call.
type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends emails via AWS SES using the SDK v2.
type SES struct {
	region string
	client sesAPI
}

// NewSES creates an SES sender. Initializes the AWS SDK client if
// credentials are provided.
func NewSES(accessKey, secretKey, region string) *SES {
	if region == "" {
		region = "us-east-1"
	}

	s := &SES{region: region}

	if accessKey != "" && secretKey != "" {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
		if err != nil {
			logger.Warn("ses aws config init failed", "error", err)
		} else {
			s.client = sesv2.NewFromConfig(cfg)
		}
	}

	return s
}

// SetClient replaces the SES API client, mainly for tests.
func (s *SES) SetClient(c sesAPI) { s.client = c }

// Name identifies this provider.
func (s *SES) Name() string { return "ses" }

// Send delivers a single email through AWS SES.
func (s *SES) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, &SendError{Provider: s.Name(), Code: "not_configured", Message: "SES client not initialized - check credentials"}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
				},
				Headers: sesHeaders(msg.Headers),
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID.String())},
			{Name: aws.String("contact_id"), Value: aws.String(msg.ContactID.String())},
		},
	}

	if msg.TextContent != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return nil, s.translateError(err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}

	logger.Info("ses send accepted", "email", msg.Email, "message_id", messageID,
		"campaign_id", msg.CampaignID.String())

	return &domain.SendResult{
		MessageID: messageID,
		Provider:  s.Name(),
		SentAt:    time.Now(),
	}, nil
}

// translateError maps SDK errors onto the provider taxonomy. SES carries no
// retry-after hint, so throttling surfaces with a zero hint and the run host
// applies its own backoff.
func (s *SES) translateError(err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return &RateLimitError{Provider: s.Name()}
	}

	var limitExceeded *types.LimitExceededException
	if errors.As(err, &limitExceeded) {
		return &RateLimitError{Provider: s.Name()}
	}

	var paused *types.SendingPausedException
	if errors.As(err, &paused) {
		return &SendError{Provider: s.Name(), Code: "sending_paused", Message: paused.ErrorMessage()}
	}

	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) {
		return &SendError{Provider: s.Name(), Code: "bad_request", Message: badRequest.ErrorMessage()}
	}

	return &SendError{Provider: s.Name(), Code: "send_failed", Message: err.Error()}
}

func sesHeaders(headers map[string]string) []types.MessageHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]types.MessageHeader, 0, len(headers))
	for name, value := range headers {
		out = append(out, types.MessageHeader{Name: aws.String(name), Value: aws.String(value)})
	}
	return out
}

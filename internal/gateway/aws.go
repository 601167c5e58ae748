package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/deadlines/internal/db"
)

// AWSConfig is shared by the SES, SNS and SQS senders. Endpoint, when set,
// points the clients at a local stack instead of AWS.
type AWSConfig struct {
	Region   string
	Endpoint string
}

func loadAWS(ctx context.Context, cfg AWSConfig) (aws.Config, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return awsCfg, nil
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers the email channel through AWS SES
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

func NewSESSender(ctx context.Context, cfg AWSConfig, from string, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SESSender{client: client, from: from, logger: logger}, nil
}

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.Address == "" {
		return fmt.Errorf("email destination missing address")
	}

	body := msg.Body
	if msg.Destination.Mention != "" {
		body = msg.Destination.Mention + "\n\n" + body
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{msg.Destination.Address},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &sestypes.Body{
				Text: &sestypes.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("id", msg.ID),
		zap.String("to", msg.Destination.Address),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelEmail
}

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func newSNSClient(ctx context.Context, cfg AWSConfig) (*sns.Client, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// SNSSender delivers the sms channel as a direct SNS publish to a phone number
type SNSSender struct {
	client snsAPI
	logger *zap.Logger
}

func NewSNSSender(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*SNSSender, error) {
	client, err := newSNSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SNSSender{client: client, logger: logger}, nil
}

func (s *SNSSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.Address == "" {
		return fmt.Errorf("sms destination missing phone number")
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.Destination.Address),
		Message:     aws.String(msg.Text()),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("id", msg.ID),
		zap.String("phone_number", msg.Destination.Address),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelSMS
}

// TopicSender publishes the message JSON to an SNS topic ARN with kind and
// tenant attributes so subscribers can filter.
type TopicSender struct {
	client snsAPI
	logger *zap.Logger
}

func NewTopicSender(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*TopicSender, error) {
	client, err := newSNSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &TopicSender{client: client, logger: logger}, nil
}

func (s *TopicSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.Address == "" {
		return fmt.Errorf("topic destination missing arn")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal topic message: %w", err)
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(msg.Destination.Address),
		Subject:  aws.String(truncate(msg.Subject, 100)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Kind),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TenantID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns topic publish failed: %w", err)
	}

	s.logger.Info("message published to SNS topic",
		zap.String("id", msg.ID),
		zap.String("topic_arn", msg.Destination.Address),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *TopicSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelTopic
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueMessage is the SQS body for the queue channel.
type QueueMessage struct {
	Message
	EnqueuedAt int64 `json:"enqueued_at"`
}

// SQSSender enqueues messages on the queue URL named by the destination
type SQSSender struct {
	client sqsAPI
	logger *zap.Logger
	now    func() time.Time
}

func NewSQSSender(ctx context.Context, cfg AWSConfig, logger *zap.Logger) (*SQSSender, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SQSSender{client: client, logger: logger, now: time.Now}, nil
}

func (s *SQSSender) Send(ctx context.Context, msg Message) error {
	if msg.Destination.Address == "" {
		return fmt.Errorf("queue destination missing url")
	}

	body, err := json.Marshal(QueueMessage{Message: msg, EnqueuedAt: s.now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(msg.Destination.Address),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Kind),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	s.logger.Info("message enqueued on SQS",
		zap.String("id", msg.ID),
		zap.String("queue_url", msg.Destination.Address),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SQSSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelQueue
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

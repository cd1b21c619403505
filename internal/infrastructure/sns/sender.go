package sns

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/comnecter/verifymail/internal/config"
)

// PublishAPI is the subset of the SNS client used by Alerter.
type PublishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Alerter publishes operator alerts to an SNS topic.
type Alerter struct {
	client   PublishAPI
	topicARN string
}

// NewAlerter returns nil when no topic is configured, which disables alerting.
func NewAlerter(ctx context.Context, cfg *config.Config) (*Alerter, error) {
	if cfg.AlertTopicARN == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.SNSRegion),
	)
	if err != nil {
		return nil, err
	}
	opts := []func(*sns.Options){}
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return NewAlerterWithClient(sns.NewFromConfig(awsCfg, opts...), cfg.AlertTopicARN), nil
}

func NewAlerterWithClient(client PublishAPI, topicARN string) *Alerter {
	return &Alerter{client: client, topicARN: topicARN}
}

func (a *Alerter) Alert(ctx context.Context, subject, message string) error {
	_, err := a.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(a.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	return err
}

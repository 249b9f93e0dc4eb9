package notify

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/rotisserie/eris"

	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// maxSubjectLen is the topic subject limit.
const maxSubjectLen = 100

// PublishAPI is the subset of the SNS client used here.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes notifications to a topic.
type SNS struct {
	client   PublishAPI
	topicARN string
	guard    *resilience.Guard
}

// NewSNS creates a topic notifier.
func NewSNS(client PublishAPI, topicARN string, guard *resilience.Guard) *SNS {
	return &SNS{client: client, topicARN: topicARN, guard: guard}
}

// Notify implements Notifier.
func (s *SNS) Notify(ctx context.Context, msg Message) error {
	subject := msg.Subject
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	in := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(msg.Body),
	}
	if len(msg.Labels) > 0 {
		in.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Labels))
		for k, v := range msg.Labels {
			in.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	err := resilience.Exec(ctx, s.guard, "publish", func(ctx context.Context) error {
		_, err := s.client.Publish(ctx, in)
		return err
	})
	return eris.Wrap(err, "notify: sns publish")
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func TestSNSPublisher_Publish(t *testing.T) {
	client := &fakeSNS{}
	p := NewSNSPublisher(client, "arn:aws:sns:us-east-1:000000000000:imports")

	err := p.Publish(context.Background(), "import.completed", map[string]any{"importId": "imp-1", "successCount": 3})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:imports", aws.ToString(in.TopicArn))
	assert.JSONEq(t, `{"importId":"imp-1","successCount":3}`, aws.ToString(in.Message))
	assert.Equal(t, "import.completed", aws.ToString(in.MessageAttributes["event_type"].StringValue))
}

func TestSNSPublisher_Errors(t *testing.T) {
	err := NewSNSPublisher(&fakeSNS{}, "").Publish(context.Background(), "x", nil)
	assert.Error(t, err)

	err = NewSNSPublisher(&fakeSNS{err: errors.New("throttled")}, "arn").Publish(context.Background(), "x", 1)
	assert.ErrorContains(t, err, "throttled")

	err = NewSNSPublisher(&fakeSNS{}, "arn").Publish(context.Background(), "x", make(chan int))
	assert.ErrorContains(t, err, "marshal x event")
}

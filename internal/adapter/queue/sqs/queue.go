// Package sqs implements the per-lane work queue on AWS SQS.
//
// A received message is invisible to other receivers for the lane's
// visibility timeout; the receipt handle authorizes delete and extend
// for that lease only. Redelivery past the queue's maxReceiveCount
// moves the message to the dead-letter companion automatically.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// API is the subset of the SQS client the queue uses.
type API interface {
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, opts ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, opts ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, opts ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *awssqs.ChangeMessageVisibilityInput, opts ...func(*awssqs.Options)) (*awssqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *awssqs.GetQueueAttributesInput, opts ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error)
}

// Queue implements domain.TaskQueue for a single lane.
type Queue struct {
	api        API
	url        string
	waitTime   time.Duration
	visibility time.Duration
}

// New constructs a lane queue. waitTime is the long-poll wait applied on
// Receive; visibility is the lane's lease length.
func New(api API, url string, waitTime, visibility time.Duration) *Queue {
	return &Queue{api: api, url: url, waitTime: waitTime, visibility: visibility}
}

// Enqueue sends the task message and returns the broker message id.
func (q *Queue) Enqueue(ctx domain.Context, m domain.TaskMessage) (string, error) {
	body, err := encodeMessage(m)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue encode: %w", err)
	}
	out, err := q.api.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Receive long-polls for at most one message. A nil message with nil
// error means the wait elapsed with the lane empty.
func (q *Queue) Receive(ctx domain.Context) (*domain.ReceivedMessage, error) {
	out, err := q.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     int32(q.waitTime / time.Second),
		VisibilityTimeout:   int32(q.visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("op=queue.receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	rc := 1
	if v, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			rc = n
		}
	}
	return &domain.ReceivedMessage{
		Body:         []byte(aws.ToString(msg.Body)),
		Receipt:      aws.ToString(msg.ReceiptHandle),
		ReceiveCount: rc,
	}, nil
}

// Delete permanently removes the message under the given receipt.
func (q *Queue) Delete(ctx domain.Context, receipt string) error {
	_, err := q.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("op=queue.delete: %w", err)
	}
	return nil
}

// Extend lengthens the current visibility lease.
func (q *Queue) Extend(ctx domain.Context, receipt string, extra time.Duration) error {
	_, err := q.api.ChangeMessageVisibility(ctx, &awssqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: int32(extra / time.Second),
	})
	if err != nil {
		return fmt.Errorf("op=queue.extend: %w", err)
	}
	return nil
}

// Depth reports the approximate number of visible messages.
func (q *Queue) Depth(ctx domain.Context) (int, error) {
	out, err := q.api.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("op=queue.depth: %w", err)
	}
	v := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("op=queue.depth parse %q: %w", v, err)
	}
	return n, nil
}

// Check probes queue reachability for readiness reporting.
func (q *Queue) Check(ctx domain.Context) error {
	_, err := q.api.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("op=queue.check: %w", err)
	}
	return nil
}

// Package dynamo persists job records in a DynamoDB table.
//
// One job per item, keyed by task_id, with a status-created_at GSI for
// listing and a TTL attribute applied on terminal writes.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// statusIndex is the GSI over (status, created_at).
const statusIndex = "status-created_at-index"

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// JobStore implements domain.JobStore on DynamoDB.
type JobStore struct {
	api   API
	table string
}

// NewJobStore constructs a JobStore over the given client and table.
func NewJobStore(api API, table string) *JobStore {
	return &JobStore{api: api, table: table}
}

type jobItem struct {
	TaskID       string `dynamodbav:"task_id"`
	Status       string `dynamodbav:"status"`
	JobType      string `dynamodbav:"job_type"`
	RequestBody  string `dynamodbav:"request_body,omitempty"`
	CreatedAt    int64  `dynamodbav:"created_at"`
	UpdatedAt    int64  `dynamodbav:"updated_at"`
	WorkerJobID  string `dynamodbav:"worker_job_id,omitempty"`
	ResultURL    string `dynamodbav:"result_s3_uri,omitempty"`
	ErrorMessage string `dynamodbav:"error_message,omitempty"`
	ExpiresAt    int64  `dynamodbav:"expires_at,omitempty"`
}

func toItem(j domain.Job) jobItem {
	return jobItem{
		TaskID:       j.ID,
		Status:       string(j.Status),
		JobType:      j.JobType,
		RequestBody:  string(j.RequestBody),
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
		WorkerJobID:  j.WorkerJobID,
		ResultURL:    j.ResultURL,
		ErrorMessage: j.ErrorMessage,
		ExpiresAt:    j.ExpiresAt,
	}
}

func fromItem(it jobItem) domain.Job {
	return domain.Job{
		ID:           it.TaskID,
		Status:       domain.JobStatus(it.Status),
		JobType:      it.JobType,
		RequestBody:  []byte(it.RequestBody),
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
		WorkerJobID:  it.WorkerJobID,
		ResultURL:    it.ResultURL,
		ErrorMessage: it.ErrorMessage,
		ExpiresAt:    it.ExpiresAt,
	}
}

// Create inserts the record iff the task_id is absent.
func (s *JobStore) Create(ctx domain.Context, j domain.Job) error {
	item, err := attributevalue.MarshalMap(toItem(j))
	if err != nil {
		return fmt.Errorf("op=job.create marshal: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(task_id)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("op=job.create id=%s: %w", j.ID, domain.ErrConflict)
		}
		return fmt.Errorf("op=job.create: %w", err)
	}
	return nil
}

// Get loads a job by id. Reads are eventually consistent, matching the
// write-lag the callers' retry logic exists to absorb.
func (s *JobStore) Get(ctx domain.Context, id string) (domain.Job, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"task_id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	if len(out.Item) == 0 {
		return domain.Job{}, fmt.Errorf("op=job.get id=%s: %w", id, domain.ErrNotFound)
	}
	var it jobItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return domain.Job{}, fmt.Errorf("op=job.get unmarshal: %w", err)
	}
	return fromItem(it), nil
}

// Update applies the patch, building the SET expression from the fields
// present. A condition rejects transitions out of a terminal state so
// redelivered finalize attempts replay harmlessly as ErrConflict.
func (s *JobStore) Update(ctx domain.Context, id string, p domain.JobPatch) error {
	set := []string{"#status = :status", "updated_at = :updated_at"}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":status":     &types.AttributeValueMemberS{Value: string(p.Status)},
		":updated_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
	}
	if p.WorkerJobID != nil {
		set = append(set, "worker_job_id = :worker_job_id")
		values[":worker_job_id"] = &types.AttributeValueMemberS{Value: *p.WorkerJobID}
	}
	if p.ResultURL != nil {
		set = append(set, "result_s3_uri = :result_s3_uri")
		values[":result_s3_uri"] = &types.AttributeValueMemberS{Value: *p.ResultURL}
	}
	if p.ErrorMessage != nil {
		set = append(set, "error_message = :error_message")
		values[":error_message"] = &types.AttributeValueMemberS{Value: *p.ErrorMessage}
	}
	if p.ExpiresAt != nil {
		set = append(set, "expires_at = :expires_at")
		values[":expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *p.ExpiresAt)}
	}
	values[":pending"] = &types.AttributeValueMemberS{Value: string(domain.JobPending)}
	values[":processing"] = &types.AttributeValueMemberS{Value: string(domain.JobProcessing)}

	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{"task_id": &types.AttributeValueMemberS{Value: id}},
		UpdateExpression:          aws.String("SET " + strings.Join(set, ", ")),
		ConditionExpression:       aws.String("attribute_not_exists(#status) OR #status IN (:pending, :processing)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return fmt.Errorf("op=job.update id=%s terminal: %w", id, domain.ErrConflict)
		}
		return fmt.Errorf("op=job.update: %w", err)
	}
	return nil
}

// ListByStatus queries the status GSI, newest first.
func (s *JobStore) ListByStatus(ctx domain.Context, status domain.JobStatus, limit int32) ([]domain.Job, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		IndexName:                aws.String(statusIndex),
		KeyConditionExpression:   aws.String("#status = :status"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		Limit:            aws.Int32(limit),
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("op=job.list_by_status: %w", err)
	}
	jobs := make([]domain.Job, 0, len(out.Items))
	for _, raw := range out.Items {
		var it jobItem
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			return nil, fmt.Errorf("op=job.list_by_status unmarshal: %w", err)
		}
		jobs = append(jobs, fromItem(it))
	}
	return jobs, nil
}

// Check probes table reachability for readiness reporting.
func (s *JobStore) Check(ctx domain.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return fmt.Errorf("op=job.check: %w", err)
	}
	return nil
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

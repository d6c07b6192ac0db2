package dynamo

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

type fakeAPI struct {
	putIn     *dynamodb.PutItemInput
	putErr    error
	getIn     *dynamodb.GetItemInput
	getOut    *dynamodb.GetItemOutput
	getErr    error
	updateIn  *dynamodb.UpdateItemInput
	updateErr error
	queryIn   *dynamodb.QueryInput
	queryOut  *dynamodb.QueryOutput
	descErr   error
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = in
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, f.getErr
	}
	return f.getOut, f.getErr
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = in
	if f.queryOut == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOut, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, f.descErr
}

func TestCreate_ConditionalPut(t *testing.T) {
	api := &fakeAPI{}
	store := NewJobStore(api, "task_store")

	err := store.Create(context.Background(), domain.Job{
		ID:          "j1",
		Status:      domain.JobPending,
		JobType:     "/api/v1/camera-angle/jobs",
		RequestBody: []byte(`{"image_url":"https://x/a.png"}`),
		CreatedAt:   100,
		UpdatedAt:   100,
	})
	require.NoError(t, err)
	require.NotNil(t, api.putIn)
	assert.Equal(t, "task_store", aws.ToString(api.putIn.TableName))
	assert.Equal(t, "attribute_not_exists(task_id)", aws.ToString(api.putIn.ConditionExpression))

	var it jobItem
	require.NoError(t, attributevalue.UnmarshalMap(api.putIn.Item, &it))
	assert.Equal(t, "j1", it.TaskID)
	assert.Equal(t, "pending", it.Status)
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	api := &fakeAPI{putErr: &types.ConditionalCheckFailedException{}}
	store := NewJobStore(api, "task_store")

	err := store.Create(context.Background(), domain.Job{ID: "j1", Status: domain.JobPending})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGet_MissingIsNotFound(t *testing.T) {
	api := &fakeAPI{}
	store := NewJobStore(api, "task_store")

	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NotNil(t, api.getIn)
	assert.Contains(t, api.getIn.Key, "task_id")
}

func TestGet_Roundtrip(t *testing.T) {
	item, err := attributevalue.MarshalMap(jobItem{
		TaskID:    "j2",
		Status:    "completed",
		JobType:   "/api/v1/qwen-image-edit/jobs",
		CreatedAt: 100,
		UpdatedAt: 200,
		ResultURL: "s3://bucket/out.png",
		ExpiresAt: 999,
	})
	require.NoError(t, err)
	api := &fakeAPI{getOut: &dynamodb.GetItemOutput{Item: item}}
	store := NewJobStore(api, "task_store")

	j, err := store.Get(context.Background(), "j2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, j.Status)
	assert.Equal(t, "s3://bucket/out.png", j.ResultURL)
	assert.Equal(t, int64(999), j.ExpiresAt)
}

func TestUpdate_BuildsSparseExpression(t *testing.T) {
	api := &fakeAPI{}
	store := NewJobStore(api, "task_store")

	url := "s3://bucket/out.png"
	exp := int64(12345)
	err := store.Update(context.Background(), "j3", domain.JobPatch{
		Status:    domain.JobCompleted,
		ResultURL: &url,
		ExpiresAt: &exp,
	})
	require.NoError(t, err)
	require.NotNil(t, api.updateIn)
	expr := aws.ToString(api.updateIn.UpdateExpression)
	assert.Contains(t, expr, "#status = :status")
	assert.Contains(t, expr, "result_s3_uri = :result_s3_uri")
	assert.Contains(t, expr, "expires_at = :expires_at")
	assert.NotContains(t, expr, "worker_job_id", "absent patch fields stay out of the expression")
	assert.NotContains(t, expr, "error_message")

	cond := aws.ToString(api.updateIn.ConditionExpression)
	assert.Contains(t, cond, ":pending")
	assert.Contains(t, cond, ":processing")
}

func TestUpdate_TerminalRecordIsConflict(t *testing.T) {
	api := &fakeAPI{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewJobStore(api, "task_store")

	msg := "boom"
	err := store.Update(context.Background(), "j4", domain.JobPatch{Status: domain.JobFailed, ErrorMessage: &msg})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestListByStatus_QueriesIndexNewestFirst(t *testing.T) {
	item, err := attributevalue.MarshalMap(jobItem{TaskID: "j5", Status: "processing", CreatedAt: 10, UpdatedAt: 10})
	require.NoError(t, err)
	api := &fakeAPI{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	store := NewJobStore(api, "task_store")

	jobs, err := store.ListByStatus(context.Background(), domain.JobProcessing, 25)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j5", jobs[0].ID)

	require.NotNil(t, api.queryIn)
	assert.Equal(t, statusIndex, aws.ToString(api.queryIn.IndexName))
	assert.False(t, aws.ToBool(api.queryIn.ScanIndexForward))
	assert.Equal(t, int32(25), aws.ToInt32(api.queryIn.Limit))
}

func TestCheck_PropagatesError(t *testing.T) {
	api := &fakeAPI{descErr: assert.AnError}
	store := NewJobStore(api, "task_store")
	assert.Error(t, store.Check(context.Background()))

	api.descErr = nil
	assert.NoError(t, store.Check(context.Background()))
}

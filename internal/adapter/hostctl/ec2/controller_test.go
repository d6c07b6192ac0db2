package ec2

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

type fakeAPI struct {
	descIn  *awsec2.DescribeInstancesInput
	descOut *awsec2.DescribeInstancesOutput
	descErr error
	startIn *awsec2.StartInstancesInput
	stopIn  *awsec2.StopInstancesInput
}

func (f *fakeAPI) DescribeInstances(_ context.Context, in *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	f.descIn = in
	if f.descOut == nil {
		return &awsec2.DescribeInstancesOutput{}, f.descErr
	}
	return f.descOut, f.descErr
}

func (f *fakeAPI) StartInstances(_ context.Context, in *awsec2.StartInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error) {
	f.startIn = in
	return &awsec2.StartInstancesOutput{}, nil
}

func (f *fakeAPI) StopInstances(_ context.Context, in *awsec2.StopInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error) {
	f.stopIn = in
	return &awsec2.StopInstancesOutput{}, nil
}

func describeOut(state types.InstanceStateName, ip string) *awsec2.DescribeInstancesOutput {
	inst := types.Instance{State: &types.InstanceState{Name: state}}
	if ip != "" {
		inst.PublicIpAddress = aws.String(ip)
	}
	return &awsec2.DescribeInstancesOutput{
		Reservations: []types.Reservation{{Instances: []types.Instance{inst}}},
	}
}

func TestState_MapsInstanceState(t *testing.T) {
	api := &fakeAPI{descOut: describeOut(types.InstanceStateNameStopped, "")}
	c := New(api, "i-0abc")

	state, err := c.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HostStopped, state)
	require.NotNil(t, api.descIn)
	assert.Equal(t, []string{"i-0abc"}, api.descIn.InstanceIds)
}

func TestState_MissingInstanceIsNotFound(t *testing.T) {
	api := &fakeAPI{}
	c := New(api, "i-0abc")

	_, err := c.State(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartStop_TargetTheInstance(t *testing.T) {
	api := &fakeAPI{}
	c := New(api, "i-0abc")

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, []string{"i-0abc"}, api.startIn.InstanceIds)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, []string{"i-0abc"}, api.stopIn.InstanceIds)
}

func TestPublicIP(t *testing.T) {
	api := &fakeAPI{descOut: describeOut(types.InstanceStateNameRunning, "203.0.113.9")}
	c := New(api, "i-0abc")

	ip, err := c.PublicIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestPublicIP_EmptyWhileStopped(t *testing.T) {
	api := &fakeAPI{descOut: describeOut(types.InstanceStateNameStopped, "")}
	c := New(api, "i-0abc")

	ip, err := c.PublicIP(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ip)
}

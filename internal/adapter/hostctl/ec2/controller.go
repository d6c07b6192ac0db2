// Package ec2 controls the single managed GPU worker host.
package ec2

import (
	"context"
	"fmt"

	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// API is the subset of the EC2 client the controller uses.
type API interface {
	DescribeInstances(ctx context.Context, in *awsec2.DescribeInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, in *awsec2.StartInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *awsec2.StopInstancesInput, opts ...func(*awsec2.Options)) (*awsec2.StopInstancesOutput, error)
}

// Controller implements domain.HostController for one instance id.
type Controller struct {
	api        API
	instanceID string
}

// New constructs a Controller for the given instance.
func New(api API, instanceID string) *Controller {
	return &Controller{api: api, instanceID: instanceID}
}

// State reads the instance lifecycle state.
func (c *Controller) State(ctx domain.Context) (domain.HostState, error) {
	inst, err := c.describe(ctx)
	if err != nil {
		return "", err
	}
	return domain.HostState(inst.state), nil
}

// Start issues a start command. Idempotent when already running.
func (c *Controller) Start(ctx domain.Context) error {
	_, err := c.api.StartInstances(ctx, &awsec2.StartInstancesInput{InstanceIds: []string{c.instanceID}})
	if err != nil {
		return fmt.Errorf("op=host.start id=%s: %w", c.instanceID, err)
	}
	return nil
}

// Stop issues a stop command. Idempotent when already stopped.
func (c *Controller) Stop(ctx domain.Context) error {
	_, err := c.api.StopInstances(ctx, &awsec2.StopInstancesInput{InstanceIds: []string{c.instanceID}})
	if err != nil {
		return fmt.Errorf("op=host.stop id=%s: %w", c.instanceID, err)
	}
	return nil
}

// PublicIP returns the instance's public address, empty while stopped.
func (c *Controller) PublicIP(ctx domain.Context) (string, error) {
	inst, err := c.describe(ctx)
	if err != nil {
		return "", err
	}
	return inst.publicIP, nil
}

type instanceInfo struct {
	state    string
	publicIP string
}

func (c *Controller) describe(ctx domain.Context) (instanceInfo, error) {
	out, err := c.api.DescribeInstances(ctx, &awsec2.DescribeInstancesInput{InstanceIds: []string{c.instanceID}})
	if err != nil {
		return instanceInfo{}, fmt.Errorf("op=host.describe id=%s: %w", c.instanceID, err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return instanceInfo{}, fmt.Errorf("op=host.describe id=%s: %w", c.instanceID, domain.ErrNotFound)
	}
	inst := out.Reservations[0].Instances[0]
	info := instanceInfo{}
	if inst.State != nil {
		info.state = string(inst.State.Name)
	}
	if inst.PublicIpAddress != nil {
		info.publicIP = *inst.PublicIpAddress
	}
	return info, nil
}

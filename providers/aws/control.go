// Package aws adapts Discord-facing commands onto the AWS control planes.
// Adapters translate calls and errors only; caching and retry policy live
// upstream in the cache layer.
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog"

	"opsbot/types"
)

// DefaultCallTimeout bounds every control-plane call.
const DefaultCallTimeout = 10 * time.Second

// Control issues describe/start/stop calls against EC2 and RDS.
type Control struct {
	callObserver
	ec2     EC2API
	rds     RDSAPI
	timeout time.Duration
	logger  zerolog.Logger
}

// NewControl creates a control adapter over the given clients.
func NewControl(ec2Client EC2API, rdsClient RDSAPI, logger zerolog.Logger, opts ...Option) *Control {
	c := &Control{
		ec2:     ec2Client,
		rds:     rdsClient,
		timeout: DefaultCallTimeout,
		logger:  logger.With().Str("component", "aws_control").Logger(),
	}
	for _, opt := range opts {
		opt(&c.callObserver)
	}
	return c
}

// Describe fetches the canonical lifecycle state of a resource.
func (c *Control) Describe(ctx context.Context, kind types.Kind, resourceID string) (types.LifecycleState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch kind {
	case types.KindEC2:
		return c.describeEC2(ctx, resourceID)
	case types.KindRDS:
		return c.describeRDS(ctx, resourceID)
	default:
		return types.StateUnknown, fmt.Errorf("unsupported kind %q", kind)
	}
}

func (c *Control) describeEC2(ctx context.Context, instanceID string) (types.LifecycleState, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err := c.translate(err, "ec2:DescribeInstances"); err != nil {
		return types.StateError, err
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return types.StateUnknown, fmt.Errorf("%w: instance %s not visible", types.ErrNotFound, instanceID)
	}
	raw := string(out.Reservations[0].Instances[0].State.Name)
	return NormalizeState(types.KindEC2, raw), nil
}

func (c *Control) describeRDS(ctx context.Context, instanceID string) (types.LifecycleState, error) {
	out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awssdk.String(instanceID),
	})
	if err := c.translate(err, "rds:DescribeDBInstances"); err != nil {
		return types.StateError, err
	}
	if len(out.DBInstances) == 0 {
		return types.StateUnknown, fmt.Errorf("%w: db instance %s not visible", types.ErrNotFound, instanceID)
	}
	raw := awssdk.ToString(out.DBInstances[0].DBInstanceStatus)
	return NormalizeState(types.KindRDS, raw), nil
}

// Start starts a resource. Starting an already-running resource is a no-op
// success, never an error.
func (c *Control) Start(ctx context.Context, kind types.Kind, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch kind {
	case types.KindEC2:
		_, callErr := c.ec2.StartInstances(ctx, &ec2.StartInstancesInput{
			InstanceIds: []string{resourceID},
		})
		err = c.translate(callErr, "ec2:StartInstances")
	case types.KindRDS:
		if guardErr := c.refuseReadReplica(ctx, resourceID); guardErr != nil {
			return guardErr
		}
		_, callErr := c.rds.StartDBInstance(ctx, &rds.StartDBInstanceInput{
			DBInstanceIdentifier: awssdk.String(resourceID),
		})
		err = c.translate(callErr, "rds:StartDBInstance")
	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}
	return c.squashNoop(err, resourceID, "start")
}

// Stop stops a resource. Stopping an already-stopped resource is a no-op
// success.
func (c *Control) Stop(ctx context.Context, kind types.Kind, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var err error
	switch kind {
	case types.KindEC2:
		_, callErr := c.ec2.StopInstances(ctx, &ec2.StopInstancesInput{
			InstanceIds: []string{resourceID},
		})
		err = c.translate(callErr, "ec2:StopInstances")
	case types.KindRDS:
		if guardErr := c.refuseReadReplica(ctx, resourceID); guardErr != nil {
			return guardErr
		}
		_, callErr := c.rds.StopDBInstance(ctx, &rds.StopDBInstanceInput{
			DBInstanceIdentifier: awssdk.String(resourceID),
		})
		err = c.translate(callErr, "rds:StopDBInstance")
	default:
		return fmt.Errorf("unsupported kind %q", kind)
	}
	return c.squashNoop(err, resourceID, "stop")
}

// squashNoop converts incorrect-state errors from mutating calls into
// success: the resource is already where the operator asked it to be.
func (c *Control) squashNoop(err error, resourceID, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errIncorrectState) {
		c.logger.Info().
			Str("resource_id", resourceID).
			Str("op", op).
			Msg("resource already in requested state, no-op")
		return nil
	}
	return err
}

// refuseReadReplica blocks start/stop on RDS read replicas; those must be
// operated through their primary.
func (c *Control) refuseReadReplica(ctx context.Context, instanceID string) error {
	out, err := c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awssdk.String(instanceID),
	})
	if err := c.translate(err, "rds:DescribeDBInstances"); err != nil {
		return err
	}
	if len(out.DBInstances) == 0 {
		return fmt.Errorf("%w: db instance %s not visible", types.ErrNotFound, instanceID)
	}
	if awssdk.ToString(out.DBInstances[0].ReadReplicaSourceDBInstanceIdentifier) != "" {
		return fmt.Errorf("%w: %s is a read replica, operate on its primary", types.ErrForbidden, instanceID)
	}
	return nil
}

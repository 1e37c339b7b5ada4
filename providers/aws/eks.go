package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/rs/zerolog"

	"opsbot/types"
)

// NodegroupInfo summarizes one EKS managed nodegroup.
type NodegroupInfo struct {
	Name         string
	Status       string
	DesiredSize  int32
	MinSize      int32
	MaxSize      int32
	InstanceType string
}

// Nodegroups manages nodegroups of a single configured cluster.
type Nodegroups struct {
	callObserver
	eks     EKSAPI
	cluster string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewNodegroups creates an EKS nodegroup adapter for one cluster.
func NewNodegroups(client EKSAPI, cluster string, logger zerolog.Logger, opts ...Option) *Nodegroups {
	n := &Nodegroups{
		eks:     client,
		cluster: cluster,
		timeout: DefaultCallTimeout,
		logger:  logger.With().Str("component", "eks").Str("cluster", cluster).Logger(),
	}
	for _, opt := range opts {
		opt(&n.callObserver)
	}
	return n
}

// List returns all nodegroups of the cluster with their scaling state.
func (n *Nodegroups) List(ctx context.Context) ([]NodegroupInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var names []string
	paginator := eks.NewListNodegroupsPaginator(n.eks, &eks.ListNodegroupsInput{
		ClusterName: awssdk.String(n.cluster),
	})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err := n.translate(err, "eks:ListNodegroups"); err != nil {
			return nil, err
		}
		names = append(names, out.Nodegroups...)
	}

	infos := make([]NodegroupInfo, 0, len(names))
	for _, name := range names {
		info, err := n.describe(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Describe returns one nodegroup's scaling state.
func (n *Nodegroups) Describe(ctx context.Context, name string) (NodegroupInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.describe(ctx, name)
}

func (n *Nodegroups) describe(ctx context.Context, name string) (NodegroupInfo, error) {
	out, err := n.eks.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   awssdk.String(n.cluster),
		NodegroupName: awssdk.String(name),
	})
	if err := n.translate(err, "eks:DescribeNodegroup"); err != nil {
		return NodegroupInfo{}, err
	}
	return buildNodegroupInfo(out.Nodegroup), nil
}

func buildNodegroupInfo(ng *ekstypes.Nodegroup) NodegroupInfo {
	if ng == nil {
		return NodegroupInfo{}
	}
	info := NodegroupInfo{
		Name:   awssdk.ToString(ng.NodegroupName),
		Status: string(ng.Status),
	}
	if sc := ng.ScalingConfig; sc != nil {
		info.DesiredSize = awssdk.ToInt32(sc.DesiredSize)
		info.MinSize = awssdk.ToInt32(sc.MinSize)
		info.MaxSize = awssdk.ToInt32(sc.MaxSize)
	}
	if len(ng.InstanceTypes) > 0 {
		info.InstanceType = ng.InstanceTypes[0]
	}
	return info
}

// Scale sets the desired node count, validated against the nodegroup's
// configured min/max bounds.
func (n *Nodegroups) Scale(ctx context.Context, name string, desired int32) error {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	current, err := n.describe(ctx, name)
	if err != nil {
		return err
	}
	if desired < current.MinSize || desired > current.MaxSize {
		return fmt.Errorf("%w: desired size %d outside [%d, %d]",
			types.ErrForbidden, desired, current.MinSize, current.MaxSize)
	}

	_, err = n.eks.UpdateNodegroupConfig(ctx, &eks.UpdateNodegroupConfigInput{
		ClusterName:   awssdk.String(n.cluster),
		NodegroupName: awssdk.String(name),
		ScalingConfig: &ekstypes.NodegroupScalingConfig{
			DesiredSize: awssdk.Int32(desired),
			MinSize:     awssdk.Int32(current.MinSize),
			MaxSize:     awssdk.Int32(current.MaxSize),
		},
	})
	if err := n.translate(err, "eks:UpdateNodegroupConfig"); err != nil {
		return err
	}
	n.logger.Info().Str("nodegroup", name).Int32("desired", desired).Msg("nodegroup scale requested")
	return nil
}

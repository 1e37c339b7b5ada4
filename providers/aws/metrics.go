package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/rs/zerolog"

	"opsbot/types"
)

// DefaultMetricsWindow is how far back statistics are queried.
const DefaultMetricsWindow = 5 * time.Minute

const metricPeriodSeconds = 300

// Metrics queries CloudWatch statistics and normalizes them into a
// display-ready snapshot.
type Metrics struct {
	callObserver
	cw      CloudWatchAPI
	rds     RDSAPI
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewMetrics creates a metrics adapter. The RDS client is used only to look
// up the instance class for memory percentage computation.
func NewMetrics(cw CloudWatchAPI, rdsClient RDSAPI, logger zerolog.Logger, opts ...Option) *Metrics {
	m := &Metrics{
		cw:      cw,
		rds:     rdsClient,
		timeout: DefaultCallTimeout,
		logger:  logger.With().Str("component", "aws_metrics").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&m.callObserver)
	}
	return m
}

// FetchMetrics returns the latest CPU/memory statistics for a resource over
// the given window. Missing memory data (EC2 without an agent) is reported
// as unavailable, not zero. An entirely empty result is ErrNoDataPoints.
func (m *Metrics) FetchMetrics(ctx context.Context, kind types.Kind, resourceID string, window time.Duration) (types.MetricsSnapshot, error) {
	if window <= 0 {
		window = DefaultMetricsWindow
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	switch kind {
	case types.KindEC2:
		return m.fetchEC2(ctx, resourceID, window)
	case types.KindRDS:
		return m.fetchRDS(ctx, resourceID, window)
	default:
		return types.MetricsSnapshot{}, fmt.Errorf("unsupported kind %q", kind)
	}
}

func (m *Metrics) fetchEC2(ctx context.Context, instanceID string, window time.Duration) (types.MetricsSnapshot, error) {
	dim := cwtypes.Dimension{Name: awssdk.String("InstanceId"), Value: awssdk.String(instanceID)}

	cpu, err := m.latestAverage(ctx, "AWS/EC2", "CPUUtilization", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	netIn, err := m.latestAverage(ctx, "AWS/EC2", "NetworkIn", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	netOut, err := m.latestAverage(ctx, "AWS/EC2", "NetworkOut", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}

	if cpu == nil && netIn == nil && netOut == nil {
		return types.MetricsSnapshot{}, fmt.Errorf("%w: no datapoints for %s in %s", types.ErrNoDataPoints, instanceID, window)
	}

	snap := types.MetricsSnapshot{
		CPUPercent: cpu,
		// Plain EC2 has no memory metric without a CloudWatch agent.
		MemUsedPercent: nil,
		Timestamp:      m.now(),
	}
	if netIn != nil {
		snap.Extra = append(snap.Extra, types.Stat{Name: "NetworkIn", Value: fmt.Sprintf("%.2f MB", *netIn/(1024*1024))})
	}
	if netOut != nil {
		snap.Extra = append(snap.Extra, types.Stat{Name: "NetworkOut", Value: fmt.Sprintf("%.2f MB", *netOut/(1024*1024))})
	}
	return snap, nil
}

func (m *Metrics) fetchRDS(ctx context.Context, instanceID string, window time.Duration) (types.MetricsSnapshot, error) {
	dim := cwtypes.Dimension{Name: awssdk.String("DBInstanceIdentifier"), Value: awssdk.String(instanceID)}

	cpu, err := m.latestAverage(ctx, "AWS/RDS", "CPUUtilization", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	freeMem, err := m.latestAverage(ctx, "AWS/RDS", "FreeableMemory", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	connections, err := m.latestAverage(ctx, "AWS/RDS", "DatabaseConnections", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}
	freeStorage, err := m.latestAverage(ctx, "AWS/RDS", "FreeStorageSpace", dim, window)
	if err != nil {
		return types.MetricsSnapshot{}, err
	}

	if cpu == nil && freeMem == nil && connections == nil && freeStorage == nil {
		return types.MetricsSnapshot{}, fmt.Errorf("%w: no datapoints for %s in %s", types.ErrNoDataPoints, instanceID, window)
	}

	snap := types.MetricsSnapshot{
		CPUPercent: cpu,
		Timestamp:  m.now(),
	}
	if freeMem != nil {
		snap.MemUsedPercent = m.memUsedPercent(ctx, instanceID, *freeMem)
	}
	if connections != nil {
		snap.Extra = append(snap.Extra, types.Stat{Name: "Connections", Value: fmt.Sprintf("%.0f", *connections)})
	}
	if freeStorage != nil {
		snap.Extra = append(snap.Extra, types.Stat{Name: "FreeStorage", Value: fmt.Sprintf("%.2f GB", *freeStorage/(1024*1024*1024))})
	}
	return snap, nil
}

// latestAverage returns the most recent Average datapoint, or nil for an
// empty series.
func (m *Metrics) latestAverage(ctx context.Context, namespace, metric string, dim cwtypes.Dimension, window time.Duration) (*float64, error) {
	end := m.now().UTC()
	out, err := m.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String(namespace),
		MetricName: awssdk.String(metric),
		Dimensions: []cwtypes.Dimension{dim},
		StartTime:  awssdk.Time(end.Add(-window)),
		EndTime:    awssdk.Time(end),
		Period:     awssdk.Int32(metricPeriodSeconds),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err := m.translate(err, "cloudwatch:GetMetricStatistics"); err != nil {
		return nil, err
	}
	if len(out.Datapoints) == 0 {
		return nil, nil
	}

	latest := out.Datapoints[0]
	for _, dp := range out.Datapoints[1:] {
		if awssdk.ToTime(dp.Timestamp).After(awssdk.ToTime(latest.Timestamp)) {
			latest = dp
		}
	}
	return latest.Average, nil
}

// rdsClassMemoryGB maps common burstable instance classes to total memory.
// Keeps the memory percentage useful without a Pricing API round trip.
var rdsClassMemoryGB = map[string]float64{
	"db.t3.micro":   1,
	"db.t3.small":   2,
	"db.t3.medium":  4,
	"db.t4g.micro":  1,
	"db.t4g.small":  2,
	"db.t4g.medium": 4,
	"db.t4g.large":  8,
	"db.t4g.xlarge": 16,
	"db.m5.large":   8,
	"db.m5.xlarge":  16,
	"db.r5.large":   16,
	"db.r5.xlarge":  32,
}

// memUsedPercent derives memory utilization from FreeableMemory and the
// instance class total. Unknown classes yield unavailable rather than a
// misleading number.
func (m *Metrics) memUsedPercent(ctx context.Context, instanceID string, freeBytes float64) *float64 {
	out, err := m.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: awssdk.String(instanceID),
	})
	if err != nil || len(out.DBInstances) == 0 {
		m.logger.Warn().Str("db_instance", instanceID).Msg("could not resolve instance class for memory percentage")
		return nil
	}
	class := awssdk.ToString(out.DBInstances[0].DBInstanceClass)
	totalGB, ok := rdsClassMemoryGB[class]
	if !ok || totalGB <= 0 {
		m.logger.Warn().Str("db_instance", instanceID).Str("class", class).Msg("unknown instance class memory")
		return nil
	}
	totalBytes := totalGB * 1024 * 1024 * 1024
	used := (totalBytes - freeBytes) / totalBytes * 100
	if used < 0 {
		used = 0
	}
	return &used
}

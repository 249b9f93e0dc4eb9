package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/PeterSoManLung/FindDinning/internal/analysis"
	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

const (
	metricNamespace   = "AWS/SageMaker"
	endpointDimName   = "EndpointName"
	endpointInService = "InService"
	statusUnknown     = "Unknown"
	defaultPeriod     = 300
	defaultCWRate     = 5
)

// metricQuery is one endpoint statistic to fetch.
type metricQuery struct {
	metric    model.MetricType
	statistic cwtypes.Statistic
}

var endpointQueries = []metricQuery{
	{model.MetricLatency, cwtypes.StatisticAverage},
	{model.MetricInvocations, cwtypes.StatisticSum},
	{model.Metric4XXErrors, cwtypes.StatisticSum},
	{model.Metric5XXErrors, cwtypes.StatisticSum},
	{model.MetricCPU, cwtypes.StatisticAverage},
	{model.MetricMemory, cwtypes.StatisticAverage},
}

// CloudWatchAPI is the subset of the CloudWatch client used for collection.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// EndpointAPI is the subset of the SageMaker client used for endpoint status.
type EndpointAPI interface {
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
}

// MetricReading is the latest value of one endpoint metric. NoData is set when
// the window held no datapoints; Error is set when the fetch failed.
type MetricReading struct {
	Value     float64     `json:"value"`
	Unit      string      `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
	Trend     model.Trend `json:"trend,omitempty"`
	NoData    bool        `json:"no_data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// EndpointStatus describes the hosting state of an endpoint.
type EndpointStatus struct {
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"creation_time,omitempty"`
	UpdatedAt time.Time `json:"last_modified_time,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Snapshot holds the metrics collected for one model endpoint.
type Snapshot struct {
	Model       string                             `json:"model_name"`
	Endpoint    string                             `json:"endpoint_name"`
	Metrics     map[model.MetricType]MetricReading `json:"metrics"`
	Status      EndpointStatus                     `json:"endpoint_status"`
	CollectedAt time.Time                          `json:"collected_at"`
}

// Reading returns the usable reading for metric, if any.
func (s *Snapshot) Reading(metric model.MetricType) (MetricReading, bool) {
	r, ok := s.Metrics[metric]
	if !ok || r.NoData || r.Error != "" {
		return MetricReading{}, false
	}
	return r, true
}

// Points converts the usable readings to performance points, ordered by metric.
func (s *Snapshot) Points() []model.PerformancePoint {
	var out []model.PerformancePoint
	for _, q := range endpointQueries {
		r, ok := s.Reading(q.metric)
		if !ok {
			continue
		}
		out = append(out, model.PerformancePoint{
			Model:      s.Model,
			MetricType: q.metric,
			Value:      r.Value,
			Unit:       r.Unit,
			Trend:      r.Trend,
			Timestamp:  r.Timestamp,
		})
	}
	return out
}

// Collector gathers endpoint metrics from CloudWatch and endpoint status from
// SageMaker. CloudWatch calls share a rate limiter.
type Collector struct {
	cw      CloudWatchAPI
	sm      EndpointAPI
	cfg     config.MonitoringConfig
	limiter *rate.Limiter
	cwGuard *resilience.Guard
	smGuard *resilience.Guard
	now     func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(cw CloudWatchAPI, sm EndpointAPI, cfg config.MonitoringConfig, settings resilience.Settings) *Collector {
	rps := cfg.CloudWatchRPS
	if rps <= 0 {
		rps = defaultCWRate
	}
	return &Collector{
		cw:      cw,
		sm:      sm,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cwGuard: settings.Guard("cloudwatch"),
		smGuard: settings.Guard("sagemaker"),
		now:     time.Now,
	}
}

// Collect fetches the last lookback window of endpoint statistics for a model.
// Individual metric failures are recorded on the reading; an error is
// returned only when every metric fetch failed.
func (c *Collector) Collect(ctx context.Context, modelName, endpoint string) (*Snapshot, error) {
	if modelName == "" || endpoint == "" {
		return nil, model.InvalidInputf("monitoring: model_name and endpoint_name are required")
	}

	end := c.now().UTC()
	lookback := time.Duration(c.cfg.LookbackHours) * time.Hour
	if lookback <= 0 {
		lookback = time.Hour
	}
	start := end.Add(-lookback)

	snap := &Snapshot{
		Model:       modelName,
		Endpoint:    endpoint,
		Metrics:     make(map[model.MetricType]MetricReading, len(endpointQueries)),
		CollectedAt: end,
	}

	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, q := range endpointQueries {
		g.Go(func() error {
			r, err := c.fetch(gctx, endpoint, q, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("monitoring: failed to collect metric",
					zap.String("model", modelName),
					zap.String("metric", string(q.metric)),
					zap.Error(err),
				)
				failures++
				lastErr = err
				r = MetricReading{Timestamp: end, Unit: "None", Error: err.Error()}
			}
			snap.Metrics[q.metric] = r
			return nil
		})
	}
	_ = g.Wait()

	if failures == len(endpointQueries) {
		return nil, eris.Wrapf(lastErr, "monitoring: collect %s", modelName)
	}

	snap.Status = c.endpointStatus(ctx, endpoint)
	return snap, nil
}

func (c *Collector) fetch(ctx context.Context, endpoint string, q metricQuery, start, end time.Time) (MetricReading, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return MetricReading{}, err
	}

	period := int32(c.cfg.PeriodSecs)
	if period <= 0 {
		period = defaultPeriod
	}

	out, err := resilience.Call(ctx, c.cwGuard, "get-metric-statistics", func(ctx context.Context) (*cloudwatch.GetMetricStatisticsOutput, error) {
		return c.cw.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String(metricNamespace),
			MetricName: aws.String(string(q.metric)),
			Dimensions: []cwtypes.Dimension{{Name: aws.String(endpointDimName), Value: aws.String(endpoint)}},
			StartTime:  aws.Time(start),
			EndTime:    aws.Time(end),
			Period:     aws.Int32(period),
			Statistics: []cwtypes.Statistic{q.statistic},
		})
	})
	if err != nil {
		return MetricReading{}, err
	}
	return readingFrom(out.Datapoints, q.statistic, end), nil
}

// readingFrom picks the latest datapoint and derives the trend across all of them.
func readingFrom(dps []cwtypes.Datapoint, statistic cwtypes.Statistic, end time.Time) MetricReading {
	if len(dps) == 0 {
		return MetricReading{Timestamp: end, Unit: "None", Trend: model.TrendInsufficient, NoData: true}
	}

	sorted := make([]cwtypes.Datapoint, len(dps))
	copy(sorted, dps)
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].Timestamp).Before(aws.ToTime(sorted[j].Timestamp))
	})

	vals := make([]float64, len(sorted))
	for i, dp := range sorted {
		vals[i] = statValue(dp, statistic)
	}
	latest := sorted[len(sorted)-1]
	r := MetricReading{
		Value:     vals[len(vals)-1],
		Unit:      string(latest.Unit),
		Timestamp: aws.ToTime(latest.Timestamp).UTC(),
		Trend:     analysis.TrendOf(vals),
	}
	if r.Unit == "" {
		r.Unit = "None"
	}
	return r
}

func statValue(dp cwtypes.Datapoint, statistic cwtypes.Statistic) float64 {
	switch statistic {
	case cwtypes.StatisticSum:
		return aws.ToFloat64(dp.Sum)
	case cwtypes.StatisticMaximum:
		return aws.ToFloat64(dp.Maximum)
	case cwtypes.StatisticMinimum:
		return aws.ToFloat64(dp.Minimum)
	default:
		return aws.ToFloat64(dp.Average)
	}
}

func (c *Collector) endpointStatus(ctx context.Context, endpoint string) EndpointStatus {
	if c.sm == nil {
		return EndpointStatus{Status: statusUnknown}
	}
	out, err := resilience.Call(ctx, c.smGuard, "describe-endpoint", func(ctx context.Context) (*sagemaker.DescribeEndpointOutput, error) {
		return c.sm.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(endpoint)})
	})
	if err != nil {
		zap.L().Warn("monitoring: failed to get endpoint status",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return EndpointStatus{Status: statusUnknown, Error: err.Error()}
	}
	return EndpointStatus{
		Status:    string(out.EndpointStatus),
		CreatedAt: aws.ToTime(out.CreationTime),
		UpdatedAt: aws.ToTime(out.LastModifiedTime),
	}
}

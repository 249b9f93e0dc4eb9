// Package metrics stores and reads model performance points in InfluxDB.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

// Measurement is the InfluxDB measurement holding performance points.
const Measurement = "model_performance"

const (
	tagModel  = "model"
	tagMetric = "metric_type"
	tagUnit   = "unit"
	tagTrend  = "trend"
	fieldVal  = "value"
)

var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Store writes and queries performance points.
type Store struct {
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	guard  *resilience.Guard
}

// New builds a Store on an InfluxDB client.
func New(client influxdb2.Client, org, bucket string, guard *resilience.Guard) *Store {
	return NewWithAPIs(client.WriteAPIBlocking(org, bucket), client.QueryAPI(org), bucket, guard)
}

// NewWithAPIs builds a Store from explicit write and query APIs.
func NewWithAPIs(w api.WriteAPIBlocking, q api.QueryAPI, bucket string, guard *resilience.Guard) *Store {
	if guard == nil {
		guard = resilience.NewGuard("influxdb", resilience.DefaultRetryConfig(), resilience.DefaultCircuitBreakerConfig())
	}
	return &Store{write: w, query: q, bucket: bucket, guard: guard}
}

// Write stores points. An empty slice is a no-op.
func (s *Store) Write(ctx context.Context, points []model.PerformancePoint) error {
	if len(points) == 0 {
		return nil
	}
	wp := make([]*write.Point, 0, len(points))
	for _, p := range points {
		wp = append(wp, toPoint(p))
	}

	err := resilience.Exec(ctx, s.guard, "write", func(ctx context.Context) error {
		return classifyHTTP(s.write.WritePoint(ctx, wp...))
	})
	if err != nil {
		return eris.Wrapf(err, "metrics: write %d points", len(points))
	}
	zap.L().Debug("metrics: wrote points",
		zap.String("component", "metrics"),
		zap.Int("count", len(points)),
	)
	return nil
}

// Points returns a model's points recorded within window, oldest first.
func (s *Store) Points(ctx context.Context, modelName string, window time.Duration) ([]model.PerformancePoint, error) {
	if !modelNamePattern.MatchString(modelName) {
		return nil, model.InvalidInputf("metrics: invalid model name %q", modelName)
	}
	if window <= 0 {
		return nil, model.InvalidInputf("metrics: window must be positive")
	}

	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %q and r.%s == %q and r._field == %q)
  |> sort(columns: ["_time"], desc: false)`,
		s.bucket, int64(window.Seconds()), Measurement, tagModel, modelName, fieldVal)

	points, err := resilience.Call(ctx, s.guard, "query", func(ctx context.Context) ([]model.PerformancePoint, error) {
		result, err := s.query.Query(ctx, flux)
		if err != nil {
			return nil, classifyHTTP(err)
		}
		if result == nil {
			return nil, nil
		}
		defer result.Close()
		return decodeRecords(modelName, result)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: query points for %s", modelName)
	}
	return points, nil
}

func toPoint(p model.PerformancePoint) *write.Point {
	pt := influxdb2.NewPointWithMeasurement(Measurement).
		AddTag(tagModel, p.Model).
		AddTag(tagMetric, string(p.MetricType)).
		AddField(fieldVal, p.Value).
		SetTime(p.Timestamp)
	if p.Unit != "" {
		pt.AddTag(tagUnit, p.Unit)
	}
	if p.Trend != "" {
		pt.AddTag(tagTrend, string(p.Trend))
	}
	return pt
}

// recordIterator is the cursor shape of *api.QueryTableResult.
type recordIterator interface {
	Next() bool
	Record() *query.FluxRecord
	Err() error
}

func decodeRecords(modelName string, it recordIterator) ([]model.PerformancePoint, error) {
	var out []model.PerformancePoint
	for it.Next() {
		rec := it.Record()
		val, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		p := model.PerformancePoint{
			Model:      modelName,
			MetricType: model.MetricType(stringValue(rec, tagMetric)),
			Value:      val,
			Unit:       stringValue(rec, tagUnit),
			Trend:      model.Trend(stringValue(rec, tagTrend)),
			Timestamp:  rec.Time(),
		}
		out = append(out, p)
	}
	if err := it.Err(); err != nil {
		return nil, classifyHTTP(err)
	}
	return out, nil
}

func stringValue(rec *query.FluxRecord, key string) string {
	if s, ok := rec.ValueByKey(key).(string); ok {
		return s
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// classifyHTTP marks throttled or failing InfluxDB responses as transient.
func classifyHTTP(err error) error {
	if err == nil {
		return nil
	}
	var herr *influxhttp.Error
	if errors.As(err, &herr) && resilience.IsTransientHTTPStatus(herr.StatusCode) {
		return resilience.NewTransientError(err, herr.StatusCode)
	}
	return err
}

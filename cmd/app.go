package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/deploy"
	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
	"github.com/PeterSoManLung/FindDinning/internal/experiment"
	"github.com/PeterSoManLung/FindDinning/internal/metrics"
	"github.com/PeterSoManLung/FindDinning/internal/monitoring"
	"github.com/PeterSoManLung/FindDinning/internal/nlp"
	"github.com/PeterSoManLung/FindDinning/internal/notify"
	"github.com/PeterSoManLung/FindDinning/internal/retrain"
	"github.com/PeterSoManLung/FindDinning/internal/schedule"
	"github.com/PeterSoManLung/FindDinning/internal/store"
	"github.com/PeterSoManLung/FindDinning/internal/training"
	anthropicpkg "github.com/PeterSoManLung/FindDinning/pkg/anthropic"
)

// needs selects which backends initApp builds.
type needs struct {
	store    bool
	aws      bool
	influx   bool
	llm      bool
	temporal bool
}

var needAll = needs{store: true, aws: true, influx: true, llm: true, temporal: true}

// appEnv holds the initialized clients and services. Services whose backend
// was not requested or not configured are nil, and the dispatcher reports
// their commands as not configured.
type appEnv struct {
	Store       store.Store
	Temporal    client.Client
	Trainer     *training.Trainer
	Experiments *experiment.Service
	Retraining  *retrain.Service
	Monitor     *monitoring.Monitor
	Versions    *deploy.Manager
	Analyzer    *nlp.Analyzer
	Dispatcher  *dispatch.Dispatcher

	influx influxdb2.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Temporal != nil {
		e.Temporal.Close()
	}
	if e.influx != nil {
		e.influx.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates cfg for mode, builds the requested backends and wires
// every service that can run on them. Callers should defer env.Close().
func initApp(ctx context.Context, mode string, n needs) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	settings := cfg.Resilience
	env := &appEnv{}

	if n.store {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
		env.Experiments = experiment.NewService(st, cfg.Experiment)
	}

	var awsCfg aws.Config
	haveAWS := false
	if n.aws || (n.llm && cfg.Anthropic.UseBedrock) {
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load aws config")
		}
		awsCfg, haveAWS = c, true
	}

	var points *metrics.Store
	if n.influx && cfg.Influx.URL != "" {
		env.influx = influxdb2.NewClient(cfg.Influx.URL, cfg.Influx.Token)
		points = metrics.New(env.influx, cfg.Influx.Org, cfg.Influx.Bucket, settings.Guard("influxdb"))
	} else if n.influx {
		zap.L().Warn("influx.url not set, performance history disabled")
	}

	var notifier notify.Notifier
	if haveAWS && n.aws {
		sm := sagemaker.NewFromConfig(awsCfg)
		notifier = notify.New(cfg.Notify, sns.NewFromConfig(awsCfg), settings)

		env.Trainer = training.New(sm, training.Config{
			Bucket:  cfg.AWS.TrainingBucket,
			RoleARN: cfg.AWS.SageMakerRoleARN,
			Specs:   training.DefaultSpecs(),
		}, settings.Guard("sagemaker"))

		if env.Store != nil {
			env.Versions = deploy.NewManager(env.Store, sm, s3.NewFromConfig(awsCfg), deploy.Config{
				Bucket:       cfg.AWS.ArtifactBucket,
				RoleARN:      cfg.AWS.SageMakerRoleARN,
				InstanceType: cfg.AWS.HostingInstanceType,
				Specs:        deploy.DefaultHostingSpecs(),
			}, settings)
		}

		collector := monitoring.NewCollector(cloudwatch.NewFromConfig(awsCfg), sm, cfg.Monitoring, settings)
		alerter := monitoring.NewAlerter(cfg.Monitoring, notifier)
		var ps monitoring.PointStore
		if points != nil {
			ps = points
		}
		env.Monitor = monitoring.NewMonitor(collector, alerter, ps, cfg.Monitoring)
	} else {
		notifier = notify.New(cfg.Notify, nil, settings)
	}

	if n.temporal && cfg.Temporal.HostPort != "" {
		tc, err := schedule.Dial(cfg.Temporal)
		if err != nil {
			zap.L().Warn("temporal unavailable, scheduled retraining disabled", zap.Error(err))
		} else {
			env.Temporal = tc
		}
	}

	if env.Trainer != nil && points != nil {
		policies, err := retrain.PoliciesFromConfig(cfg.Retraining)
		if err != nil {
			env.Close()
			return nil, err
		}
		opts := []retrain.Option{retrain.WithConcurrency(cfg.Retraining.Concurrency)}
		if env.Temporal != nil {
			opts = append(opts, retrain.WithScheduler(schedule.NewScheduler(env.Temporal, cfg.Temporal.TaskQueue)))
		}
		var ages retrain.AgeSource
		if env.Store != nil {
			ages = env.Store
		}
		env.Retraining = retrain.NewService(points, ages, env.Trainer, notifier, policies, cfg.Retraining.Models, opts...)
	}

	if n.llm {
		var llm anthropicpkg.Client
		switch {
		case cfg.Anthropic.UseBedrock && haveAWS:
			llm = anthropicpkg.NewBedrockClient(awsCfg)
		case cfg.Anthropic.Key != "":
			llm = anthropicpkg.NewClient(cfg.Anthropic.Key)
		default:
			zap.L().Debug("anthropic not configured, feedback analysis disabled")
		}
		if llm != nil {
			env.Analyzer = nlp.NewAnalyzer(llm, cfg.Anthropic, settings)
		}
	}

	env.Dispatcher = dispatch.NewDispatcher(env.services())
	return env, nil
}

// services exposes the wired services to the dispatcher. Nil pointers are
// kept out of the interfaces so that missing services stay detectable.
func (e *appEnv) services() dispatch.Services {
	var svc dispatch.Services
	if e.Experiments != nil {
		svc.Experiments = e.Experiments
	}
	if e.Retraining != nil {
		svc.Retraining = e.Retraining
	}
	if e.Monitor != nil {
		svc.Monitoring = e.Monitor
	}
	if e.Versions != nil {
		svc.Versions = e.Versions
	}
	if e.Analyzer != nil {
		svc.Feedback = e.Analyzer
	}
	return svc
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "mlops.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

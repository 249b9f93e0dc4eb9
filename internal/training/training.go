// Package training starts and inspects managed retraining jobs.
package training

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

const (
	defaultImage         = "763104351884.dkr.ecr.us-east-1.amazonaws.com/pytorch-training:1.12.0-cpu-py38-ubuntu20.04-sagemaker"
	huggingFaceImage     = "763104351884.dkr.ecr.us-east-1.amazonaws.com/huggingface-pytorch-training:1.10.2-transformers4.17.0-py38-gpu-py38-cu113-ubuntu20.04"
	jobTimestampLayout   = "20060102-150405"
	maxTagValueLen       = 256
	maxJobNameLen        = 63
	defaultInstanceType  = "ml.m5.large"
	defaultVolumeGB      = 30
	defaultMaxRuntime    = time.Hour
	defaultContentType   = "application/json"
	trainingChannel      = "training"
	trainingDataRootPath = "training-data"
)

var jobNamePattern = regexp.MustCompile(`^[a-zA-Z0-9](-*[a-zA-Z0-9])*$`)

// API is the subset of the SageMaker client used for training.
type API interface {
	CreateTrainingJob(ctx context.Context, params *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
}

// Spec is the per-model training recipe.
type Spec struct {
	Image       string `yaml:"image" mapstructure:"image"`
	ContentType string `yaml:"content_type" mapstructure:"content_type"`
	// DataPrefix overrides training-data/{model}/ inside the training bucket.
	DataPrefix string `yaml:"data_prefix" mapstructure:"data_prefix"`
}

// DefaultSpecs returns the recipes for the built-in models. Other models use
// the generic PyTorch image with JSON input.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"recommendation": {Image: defaultImage, ContentType: "application/json"},
		"sentiment":      {Image: huggingFaceImage, ContentType: "text/csv"},
	}
}

// Config locates training inputs and outputs.
type Config struct {
	Bucket        string
	RoleARN       string
	InstanceType  string
	InstanceCount int32
	VolumeGB      int32
	MaxRuntime    time.Duration
	Specs         map[string]Spec
}

func (c Config) withDefaults() Config {
	if c.InstanceType == "" {
		c.InstanceType = defaultInstanceType
	}
	if c.InstanceCount <= 0 {
		c.InstanceCount = 1
	}
	if c.VolumeGB <= 0 {
		c.VolumeGB = defaultVolumeGB
	}
	if c.MaxRuntime <= 0 {
		c.MaxRuntime = defaultMaxRuntime
	}
	if c.Specs == nil {
		c.Specs = DefaultSpecs()
	}
	return c
}

// Trainer creates retraining jobs for hosted models.
type Trainer struct {
	api   API
	cfg   Config
	guard *resilience.Guard
	now   func() time.Time
}

// New creates a Trainer.
func New(api API, cfg Config, guard *resilience.Guard) *Trainer {
	return &Trainer{api: api, cfg: cfg.withDefaults(), guard: guard, now: time.Now}
}

// JobName returns the training job name for a model started at t.
func JobName(modelName string, t time.Time) string {
	return fmt.Sprintf("%s-retrain-%s", modelName, t.UTC().Format(jobTimestampLayout))
}

// SpecFor returns the recipe for a model.
func (t *Trainer) SpecFor(modelName string) Spec {
	spec, ok := t.cfg.Specs[modelName]
	if !ok {
		spec = Spec{Image: defaultImage}
	}
	if spec.Image == "" {
		spec.Image = defaultImage
	}
	if spec.ContentType == "" {
		spec.ContentType = defaultContentType
	}
	if spec.DataPrefix == "" {
		spec.DataPrefix = fmt.Sprintf("%s/%s/", trainingDataRootPath, modelName)
	}
	return spec
}

// Start launches a retraining job for modelName.
func (t *Trainer) Start(ctx context.Context, modelName, reason string) (*model.TrainingJob, error) {
	if modelName == "" {
		return nil, model.InvalidInputf("training: model_name is required")
	}
	if reason == "" {
		reason = "Automatic retraining triggered"
	}

	started := t.now().UTC()
	name := JobName(modelName, started)
	if len(name) > maxJobNameLen || !jobNamePattern.MatchString(name) {
		return nil, model.InvalidInputf("training: model name %q cannot form a valid job name", modelName)
	}

	spec := t.SpecFor(modelName)
	in := &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(name),
		RoleArn:         aws.String(t.cfg.RoleARN),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(spec.Image),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		InputDataConfig: []types.Channel{{
			ChannelName: aws.String(trainingChannel),
			DataSource: &types.DataSource{
				S3DataSource: &types.S3DataSource{
					S3DataType:             types.S3DataTypeS3Prefix,
					S3Uri:                  aws.String(fmt.Sprintf("s3://%s/%s", t.cfg.Bucket, spec.DataPrefix)),
					S3DataDistributionType: types.S3DataDistributionFullyReplicated,
				},
			},
			ContentType:     aws.String(spec.ContentType),
			CompressionType: types.CompressionTypeNone,
		}},
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(fmt.Sprintf("s3://%s/models/%s/retraining/%s/",
				t.cfg.Bucket, modelName, started.Format(jobTimestampLayout))),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   types.TrainingInstanceType(t.cfg.InstanceType),
			InstanceCount:  aws.Int32(t.cfg.InstanceCount),
			VolumeSizeInGB: aws.Int32(t.cfg.VolumeGB),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(int32(t.cfg.MaxRuntime / time.Second)),
		},
		Tags: []types.Tag{
			{Key: aws.String("ModelName"), Value: aws.String(modelName)},
			{Key: aws.String("RetrainingReason"), Value: aws.String(truncate(reason, maxTagValueLen))},
			{Key: aws.String("AutoTriggered"), Value: aws.String("true")},
		},
	}

	err := resilience.Exec(ctx, t.guard, "create-training-job", func(ctx context.Context) error {
		_, err := t.api.CreateTrainingJob(ctx, in)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "training: create job %s", name)
	}

	zap.L().Info("training: started retraining job",
		zap.String("model", modelName),
		zap.String("job", name),
		zap.String("reason", reason),
	)

	return &model.TrainingJob{
		Name:      name,
		Model:     modelName,
		Reason:    reason,
		Status:    model.TrainingInProgress,
		StartedAt: started,
	}, nil
}

// Describe returns the current state of a training job. Artifacts are set for
// completed jobs and FailureReason for failed ones.
func (t *Trainer) Describe(ctx context.Context, jobName string) (*model.TrainingJob, error) {
	if jobName == "" {
		return nil, model.InvalidInputf("training: training_job_name is required")
	}

	out, err := resilience.Call(ctx, t.guard, "describe-training-job", func(ctx context.Context) (*sagemaker.DescribeTrainingJobOutput, error) {
		return t.api.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{TrainingJobName: aws.String(jobName)})
	})
	if err != nil {
		if isNotFound(err) {
			return nil, model.NotFoundf("training job %s", jobName)
		}
		return nil, eris.Wrapf(err, "training: describe job %s", jobName)
	}

	job := &model.TrainingJob{
		Name:      jobName,
		Status:    model.TrainingStatus(out.TrainingJobStatus),
		StartedAt: aws.ToTime(out.CreationTime),
		UpdatedAt: aws.ToTime(out.LastModifiedTime),
	}
	switch job.Status {
	case model.TrainingCompleted:
		if out.ModelArtifacts != nil {
			job.Artifacts = aws.ToString(out.ModelArtifacts.S3ModelArtifacts)
		}
		job.EndedAt = out.TrainingEndTime
	case model.TrainingFailed:
		job.FailureReason = aws.ToString(out.FailureReason)
		if job.FailureReason == "" {
			job.FailureReason = "Unknown failure"
		}
	}
	return job, nil
}

// isNotFound reports whether a describe call failed because the job does not exist.
func isNotFound(err error) bool {
	switch resilience.APIErrorCode(err) {
	case "ResourceNotFound", "ResourceNotFoundException":
		return true
	case "ValidationException":
		return strings.Contains(strings.ToLower(err.Error()), "not found")
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

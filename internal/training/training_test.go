package training

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

type mockSageMaker struct {
	created     []*sagemaker.CreateTrainingJobInput
	createErrs  []error
	describe    *sagemaker.DescribeTrainingJobOutput
	describeErr error
}

func (m *mockSageMaker) CreateTrainingJob(_ context.Context, in *sagemaker.CreateTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error) {
	m.created = append(m.created, in)
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sagemaker.CreateTrainingJobOutput{TrainingJobArn: aws.String("arn:job")}, nil
}

func (m *mockSageMaker) DescribeTrainingJob(_ context.Context, _ *sagemaker.DescribeTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
	return m.describe, m.describeErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func newTestTrainer(api API) *Trainer {
	g := resilience.NewGuard("sagemaker", resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, resilience.CircuitBreakerConfig{FailureThreshold: 10})
	tr := New(api, Config{Bucket: "ml-training", RoleARN: "arn:aws:iam::123:role/train"}, g)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "sentiment-retrain-20260301-123045", JobName("sentiment", fixedNow))
}

func TestTrainer_Start(t *testing.T) {
	api := &mockSageMaker{}
	tr := newTestTrainer(api)

	job, err := tr.Start(context.Background(), "sentiment", "Significant error rate increase detected")
	require.NoError(t, err)

	assert.Equal(t, "sentiment-retrain-20260301-123045", job.Name)
	assert.Equal(t, model.TrainingInProgress, job.Status)
	assert.Equal(t, fixedNow, job.StartedAt)

	require.Len(t, api.created, 1)
	in := api.created[0]
	assert.Equal(t, "arn:aws:iam::123:role/train", aws.ToString(in.RoleArn))
	assert.Equal(t, huggingFaceImage, aws.ToString(in.AlgorithmSpecification.TrainingImage))
	assert.Equal(t, "text/csv", aws.ToString(in.InputDataConfig[0].ContentType))
	assert.Equal(t, "s3://ml-training/training-data/sentiment/", aws.ToString(in.InputDataConfig[0].DataSource.S3DataSource.S3Uri))
	assert.Equal(t, "s3://ml-training/models/sentiment/retraining/20260301-123045/", aws.ToString(in.OutputDataConfig.S3OutputPath))
	assert.Equal(t, types.TrainingInstanceType("ml.m5.large"), in.ResourceConfig.InstanceType)
	assert.Equal(t, int32(1), aws.ToInt32(in.ResourceConfig.InstanceCount))
	assert.Equal(t, int32(30), aws.ToInt32(in.ResourceConfig.VolumeSizeInGB))
	assert.Equal(t, int32(3600), aws.ToInt32(in.StoppingCondition.MaxRuntimeInSeconds))
	require.Len(t, in.Tags, 3)
	assert.Equal(t, "Significant error rate increase detected", aws.ToString(in.Tags[1].Value))
}

func TestTrainer_Start_GenericModel(t *testing.T) {
	api := &mockSageMaker{}
	tr := newTestTrainer(api)

	_, err := tr.Start(context.Background(), "churn", "")
	require.NoError(t, err)

	in := api.created[0]
	assert.Equal(t, defaultImage, aws.ToString(in.AlgorithmSpecification.TrainingImage))
	assert.Equal(t, "application/json", aws.ToString(in.InputDataConfig[0].ContentType))
	assert.Equal(t, "s3://ml-training/training-data/churn/", aws.ToString(in.InputDataConfig[0].DataSource.S3DataSource.S3Uri))
	assert.Equal(t, "Automatic retraining triggered", aws.ToString(in.Tags[1].Value))
}

func TestTrainer_Start_LongReasonTruncated(t *testing.T) {
	api := &mockSageMaker{}
	tr := newTestTrainer(api)

	_, err := tr.Start(context.Background(), "recommendation", strings.Repeat("r", 400))
	require.NoError(t, err)
	assert.Len(t, aws.ToString(api.created[0].Tags[1].Value), maxTagValueLen)
}

func TestTrainer_Start_InvalidInput(t *testing.T) {
	tr := newTestTrainer(&mockSageMaker{})

	_, err := tr.Start(context.Background(), "", "x")
	assert.True(t, eris.Is(err, model.ErrInvalidInput))

	_, err = tr.Start(context.Background(), "bad_name", "x")
	assert.True(t, eris.Is(err, model.ErrInvalidInput))

	_, err = tr.Start(context.Background(), strings.Repeat("m", 50), "x")
	assert.True(t, eris.Is(err, model.ErrInvalidInput))
}

func TestTrainer_Start_ThrottledThenOK(t *testing.T) {
	api := &mockSageMaker{createErrs: []error{&smithy.GenericAPIError{Code: "ThrottlingException"}, nil}}
	tr := newTestTrainer(api)

	_, err := tr.Start(context.Background(), "recommendation", "x")
	require.NoError(t, err)
	assert.Len(t, api.created, 2)
}

func TestTrainer_Start_Unavailable(t *testing.T) {
	unavailable := &smithy.GenericAPIError{Code: "ServiceUnavailable"}
	api := &mockSageMaker{createErrs: []error{unavailable, unavailable, unavailable}}
	tr := newTestTrainer(api)

	_, err := tr.Start(context.Background(), "recommendation", "x")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestTrainer_Describe_Completed(t *testing.T) {
	end := fixedNow.Add(40 * time.Minute)
	api := &mockSageMaker{describe: &sagemaker.DescribeTrainingJobOutput{
		TrainingJobStatus: types.TrainingJobStatusCompleted,
		CreationTime:      aws.Time(fixedNow),
		LastModifiedTime:  aws.Time(end),
		TrainingEndTime:   aws.Time(end),
		ModelArtifacts:    &types.ModelArtifacts{S3ModelArtifacts: aws.String("s3://ml-training/models/sentiment/model.tar.gz")},
	}}
	tr := newTestTrainer(api)

	job, err := tr.Describe(context.Background(), "sentiment-retrain-20260301-123045")
	require.NoError(t, err)
	assert.Equal(t, model.TrainingCompleted, job.Status)
	assert.Equal(t, "s3://ml-training/models/sentiment/model.tar.gz", job.Artifacts)
	require.NotNil(t, job.EndedAt)
	assert.Equal(t, end, *job.EndedAt)
	assert.Empty(t, job.FailureReason)
}

func TestTrainer_Describe_Failed(t *testing.T) {
	api := &mockSageMaker{describe: &sagemaker.DescribeTrainingJobOutput{
		TrainingJobStatus: types.TrainingJobStatusFailed,
		CreationTime:      aws.Time(fixedNow),
		LastModifiedTime:  aws.Time(fixedNow),
	}}
	tr := newTestTrainer(api)

	job, err := tr.Describe(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, model.TrainingFailed, job.Status)
	assert.Equal(t, "Unknown failure", job.FailureReason)
	assert.Empty(t, job.Artifacts)
}

func TestTrainer_Describe_NotFound(t *testing.T) {
	api := &mockSageMaker{describeErr: &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: "Requested resource not found.",
		Fault:   smithy.FaultClient,
	}}
	tr := newTestTrainer(api)

	_, err := tr.Describe(context.Background(), "missing-job")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestTrainer_Describe_InvalidInput(t *testing.T) {
	tr := newTestTrainer(&mockSageMaker{})
	_, err := tr.Describe(context.Background(), "")
	assert.True(t, eris.Is(err, model.ErrInvalidInput))
}

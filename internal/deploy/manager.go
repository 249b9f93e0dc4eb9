// Package deploy manages the model version registry and promotes versions to
// hosted endpoints.
package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
)

const (
	defaultInferenceImage = "763104351884.dkr.ecr.us-east-1.amazonaws.com/pytorch-inference:1.12.0-cpu-py38-ubuntu20.04-sagemaker"
	sentimentImage        = "763104351884.dkr.ecr.us-east-1.amazonaws.com/huggingface-pytorch-inference:1.10.2-transformers4.17.0-cpu-py38-ubuntu20.04"
	defaultHostingType    = "ml.t2.medium"
	primaryVariant        = "primary"
	artifactRoot          = "models"
	retrainingOutputDir   = "retraining"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)

// HostingAPI is the subset of the SageMaker client used for deployment.
type HostingAPI interface {
	CreateModel(ctx context.Context, params *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	CreateEndpointConfig(ctx context.Context, params *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	UpdateEndpoint(ctx context.Context, params *sagemaker.UpdateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.UpdateEndpointOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
}

// ObjectAPI is the subset of the S3 client used to size artifacts.
type ObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Registry persists model versions. store.Store satisfies it.
type Registry interface {
	UpsertVersion(ctx context.Context, v *model.ModelVersion) error
	GetVersion(ctx context.Context, modelName, version string) (*model.ModelVersion, error)
	ListVersions(ctx context.Context, modelName string) ([]model.ModelVersion, error)
	LatestDeployed(ctx context.Context, modelName string) (*model.ModelVersion, error)
}

// HostingSpec is the per-model serving recipe.
type HostingSpec struct {
	Image       string            `yaml:"image" mapstructure:"image"`
	Environment map[string]string `yaml:"environment" mapstructure:"environment"`
}

// DefaultHostingSpecs returns the serving recipes for the built-in models.
func DefaultHostingSpecs() map[string]HostingSpec {
	return map[string]HostingSpec{
		"recommendation": {
			Image: defaultInferenceImage,
			Environment: map[string]string{
				"SAGEMAKER_PROGRAM":          "inference.py",
				"SAGEMAKER_SUBMIT_DIRECTORY": "/opt/ml/code",
			},
		},
		"sentiment": {
			Image: sentimentImage,
			Environment: map[string]string{
				"HF_MODEL_ID": "cardiffnlp/twitter-roberta-base-sentiment-latest",
				"HF_TASK":     "text-classification",
			},
		},
	}
}

// Config holds deployment settings.
type Config struct {
	Bucket       string
	RoleARN      string
	InstanceType string
	Specs        map[string]HostingSpec
}

// Manager registers uploaded artifacts and deploys versions.
type Manager struct {
	registry Registry
	hosting  HostingAPI
	objects  ObjectAPI
	cfg      Config
	sm       *resilience.Guard
	s3       *resilience.Guard
	now      func() time.Time
	suffix   func() string
}

// NewManager creates a Manager.
func NewManager(registry Registry, hosting HostingAPI, objects ObjectAPI, cfg Config, settings resilience.Settings) *Manager {
	if cfg.InstanceType == "" {
		cfg.InstanceType = defaultHostingType
	}
	if cfg.Specs == nil {
		cfg.Specs = DefaultHostingSpecs()
	}
	return &Manager{
		registry: registry,
		hosting:  hosting,
		objects:  objects,
		cfg:      cfg,
		sm:       settings.Guard("sagemaker"),
		s3:       settings.Guard("s3"),
		now:      time.Now,
		suffix:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// EndpointName returns the stable endpoint that serves a model.
func EndpointName(modelName string) string {
	return safeName(modelName) + "-endpoint"
}

// ParseArtifactKey extracts the model and version from an object key of the
// form models/{model}/{version}/{file}. Training output directories are not
// versions.
func ParseArtifactKey(key string) (modelName, version string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 4 || parts[0] != artifactRoot || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	if parts[2] == retrainingOutputDir {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// HandleUpload registers an uploaded artifact and deploys it when the version
// is a release version.
func (m *Manager) HandleUpload(ctx context.Context, bucket, key string) (*model.ModelVersion, error) {
	modelName, version, ok := ParseArtifactKey(key)
	if !ok {
		return nil, model.InvalidInputf("deploy: %q is not a model artifact key", key)
	}
	if bucket == "" {
		bucket = m.cfg.Bucket
	}

	now := m.now().UTC()
	v := &model.ModelVersion{
		Model:            modelName,
		Version:          version,
		ArtifactBucket:   bucket,
		ArtifactKey:      key,
		SizeBytes:        m.objectSize(ctx, bucket, key),
		Status:           model.VersionUploaded,
		DeploymentStatus: model.DeploymentPending,
		Metadata:         map[string]string{"upload_timestamp": now.Format(time.RFC3339)},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.registry.UpsertVersion(ctx, v); err != nil {
		return nil, eris.Wrap(err, "deploy: register version")
	}
	zap.L().Info("deploy: registered model version",
		zap.String("model", modelName),
		zap.String("version", version),
		zap.Int64("size_bytes", v.SizeBytes),
	)

	if !model.IsReleaseVersion(version) {
		return v, nil
	}
	return m.deploy(ctx, v)
}

// objectSize returns the artifact size, or 0 when it cannot be read.
func (m *Manager) objectSize(ctx context.Context, bucket, key string) int64 {
	if m.objects == nil {
		return 0
	}
	out, err := resilience.Call(ctx, m.s3, "head-object", func(ctx context.Context) (*s3.HeadObjectOutput, error) {
		return m.objects.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	})
	if err != nil {
		zap.L().Warn("deploy: could not size artifact",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return 0
	}
	return aws.ToInt64(out.ContentLength)
}

// Deploy promotes a registered version to the model's endpoint.
func (m *Manager) Deploy(ctx context.Context, modelName, version string) (*model.ModelVersion, error) {
	v, err := m.lookup(ctx, modelName, version)
	if err != nil {
		return nil, err
	}
	return m.deploy(ctx, v)
}

// Rollback redeploys targetVersion and marks the version it replaces as rolled back.
func (m *Manager) Rollback(ctx context.Context, modelName, targetVersion string) (*model.ModelVersion, error) {
	target, err := m.lookup(ctx, modelName, targetVersion)
	if err != nil {
		return nil, err
	}
	current, err := m.registry.LatestDeployed(ctx, modelName)
	if err != nil {
		return nil, eris.Wrap(err, "deploy: find current version")
	}

	v, err := m.deploy(ctx, target)
	if err != nil || v.DeploymentStatus != model.DeploymentDeployed {
		return v, err
	}

	if current != nil && current.Version != targetVersion {
		current.DeploymentStatus = model.DeploymentRolledBack
		current.UpdatedAt = m.now().UTC()
		if err := m.registry.UpsertVersion(ctx, current); err != nil {
			return v, eris.Wrap(err, "deploy: mark rolled back")
		}
	}
	zap.L().Info("deploy: rolled back model",
		zap.String("model", modelName),
		zap.String("version", targetVersion),
	)
	return v, nil
}

// List returns a model's versions, newest first.
func (m *Manager) List(ctx context.Context, modelName string) ([]model.ModelVersion, error) {
	if modelName == "" {
		return nil, model.InvalidInputf("deploy: model_name is required")
	}
	vs, err := m.registry.ListVersions(ctx, modelName)
	if err != nil {
		return nil, eris.Wrap(err, "deploy: list versions")
	}
	return vs, nil
}

// Delete removes a version from the registry. The version currently serving
// traffic cannot be deleted.
func (m *Manager) Delete(ctx context.Context, modelName, version string) error {
	v, err := m.lookup(ctx, modelName, version)
	if err != nil {
		return err
	}
	live, err := m.registry.LatestDeployed(ctx, modelName)
	if err != nil {
		return eris.Wrap(err, "deploy: find current version")
	}
	if live != nil && live.Version == version {
		return model.InvalidInputf("deploy: %s/%s is serving traffic, roll back before deleting", modelName, version)
	}

	v.Status = model.VersionDeleted
	v.UpdatedAt = m.now().UTC()
	if err := m.registry.UpsertVersion(ctx, v); err != nil {
		return eris.Wrap(err, "deploy: delete version")
	}
	return nil
}

func (m *Manager) lookup(ctx context.Context, modelName, version string) (*model.ModelVersion, error) {
	if modelName == "" || version == "" {
		return nil, model.InvalidInputf("deploy: model_name and version are required")
	}
	v, err := m.registry.GetVersion(ctx, modelName, version)
	if err != nil {
		return nil, err
	}
	if v.Status == model.VersionDeleted {
		return nil, model.NotFoundf("model version %s/%s", modelName, version)
	}
	return v, nil
}

// deploy creates the hosted model and endpoint config for v and points the
// model's endpoint at it. The outcome is recorded on the version. Permanent
// failures are reported through DeploymentStatus; an exhausted upstream is
// also returned as an error.
func (m *Manager) deploy(ctx context.Context, v *model.ModelVersion) (*model.ModelVersion, error) {
	hostedName, endpoint, err := m.createResources(ctx, v)
	now := m.now().UTC()
	v.UpdatedAt = now

	if err != nil {
		v.DeploymentStatus = model.DeploymentFailed
		v.DeploymentError = err.Error()
		zap.L().Error("deploy: deployment failed",
			zap.String("model", v.Model),
			zap.String("version", v.Version),
			zap.Error(err),
		)
		if uerr := m.registry.UpsertVersion(ctx, v); uerr != nil {
			return v, eris.Wrap(uerr, "deploy: record failure")
		}
		if resilience.IsTransient(err) {
			return v, err
		}
		return v, nil
	}

	v.DeploymentStatus = model.DeploymentDeployed
	v.DeploymentError = ""
	v.EndpointName = endpoint
	v.HostedModelName = hostedName
	v.DeployedAt = &now
	if err := m.registry.UpsertVersion(ctx, v); err != nil {
		return v, eris.Wrap(err, "deploy: record deployment")
	}
	zap.L().Info("deploy: model deployed",
		zap.String("model", v.Model),
		zap.String("version", v.Version),
		zap.String("endpoint", endpoint),
	)
	return v, nil
}

func (m *Manager) createResources(ctx context.Context, v *model.ModelVersion) (string, string, error) {
	suffix := m.suffix()
	hostedName := fmt.Sprintf("%s-%s-%s", safeName(v.Model), safeName(v.Version), suffix)
	configName := fmt.Sprintf("%s-config-%s-%s", safeName(v.Model), safeName(v.Version), suffix)
	endpoint := EndpointName(v.Model)
	spec := m.specFor(v.Model)

	bucket := v.ArtifactBucket
	if bucket == "" {
		bucket = m.cfg.Bucket
	}
	tags := []types.Tag{
		{Key: aws.String("ModelName"), Value: aws.String(v.Model)},
		{Key: aws.String("Version"), Value: aws.String(v.Version)},
	}

	err := resilience.Exec(ctx, m.sm, "create-model", func(ctx context.Context) error {
		_, err := m.hosting.CreateModel(ctx, &sagemaker.CreateModelInput{
			ModelName:        aws.String(hostedName),
			ExecutionRoleArn: aws.String(m.cfg.RoleARN),
			PrimaryContainer: &types.ContainerDefinition{
				Image:        aws.String(spec.Image),
				ModelDataUrl: aws.String(fmt.Sprintf("s3://%s/%s", bucket, v.ArtifactKey)),
				Environment:  spec.Environment,
			},
			Tags: append(tags, types.Tag{Key: aws.String("Environment"), Value: aws.String("production")}),
		})
		return err
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "deploy: create model %s", hostedName)
	}

	err = resilience.Exec(ctx, m.sm, "create-endpoint-config", func(ctx context.Context) error {
		_, err := m.hosting.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
			EndpointConfigName: aws.String(configName),
			ProductionVariants: []types.ProductionVariant{{
				VariantName:          aws.String(primaryVariant),
				ModelName:            aws.String(hostedName),
				InitialInstanceCount: aws.Int32(1),
				InstanceType:         types.ProductionVariantInstanceType(m.cfg.InstanceType),
				InitialVariantWeight: aws.Float32(1),
			}},
			Tags: tags,
		})
		return err
	})
	if err != nil {
		return "", "", eris.Wrapf(err, "deploy: create endpoint config %s", configName)
	}

	err = resilience.Exec(ctx, m.sm, "update-endpoint", func(ctx context.Context) error {
		_, err := m.hosting.UpdateEndpoint(ctx, &sagemaker.UpdateEndpointInput{
			EndpointName:       aws.String(endpoint),
			EndpointConfigName: aws.String(configName),
		})
		return err
	})
	if resilience.APIErrorCode(err) == "ValidationException" {
		// The endpoint does not exist yet.
		err = resilience.Exec(ctx, m.sm, "create-endpoint", func(ctx context.Context) error {
			_, err := m.hosting.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
				EndpointName:       aws.String(endpoint),
				EndpointConfigName: aws.String(configName),
				Tags:               tags,
			})
			return err
		})
		if err == nil {
			zap.L().Info("deploy: created endpoint", zap.String("endpoint", endpoint))
		}
	}
	if err != nil {
		return "", "", eris.Wrapf(err, "deploy: point endpoint %s at %s", endpoint, configName)
	}
	return hostedName, endpoint, nil
}

func (m *Manager) specFor(modelName string) HostingSpec {
	spec, ok := m.cfg.Specs[modelName]
	if !ok || spec.Image == "" {
		spec.Image = defaultInferenceImage
	}
	return spec
}

// safeName maps a model or version string onto the hosting service's
// resource name alphabet.
func safeName(s string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(s, "-"), "-")
}

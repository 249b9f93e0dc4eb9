// Package experiment runs A/B experiments between model versions: creation,
// subject assignment, outcome recording and analysis.
package experiment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/PeterSoManLung/FindDinning/internal/analysis"
	"github.com/PeterSoManLung/FindDinning/internal/assign"
	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/store"
)

var validate = validator.New()

// CreateRequest describes a new experiment.
type CreateRequest struct {
	Name             string   `json:"test_name" validate:"required"`
	Model            string   `json:"model_name" validate:"required"`
	ControlVersion   string   `json:"control_version" validate:"required"`
	TreatmentVersion string   `json:"treatment_version" validate:"required"`
	TrafficSplit     *int     `json:"traffic_split,omitempty" validate:"omitempty,gte=0,lte=100"`
	DurationDays     int      `json:"duration_days,omitempty" validate:"gte=0,lte=365"`
	SuccessMetrics   []string `json:"success_metrics,omitempty" validate:"omitempty,dive,required"`
	CreatedBy        string   `json:"created_by,omitempty"`
	Description      string   `json:"description,omitempty"`
	Hypothesis       string   `json:"hypothesis,omitempty"`
}

// RecordRequest is one observed outcome for a subject.
type RecordRequest struct {
	ExperimentID string         `json:"test_id" validate:"required"`
	SubjectID    string         `json:"user_id" validate:"required"`
	Metric       string         `json:"metric_name" validate:"required"`
	Value        *float64       `json:"metric_value" validate:"required"`
	Context      map[string]any `json:"context,omitempty"`
}

// AssignResult is the variant and model version a subject should be served.
// ExperimentID is empty when no experiment is running for the model.
type AssignResult struct {
	ExperimentID string        `json:"test_id"`
	Variant      model.Variant `json:"variant"`
	Version      string        `json:"model_version"`
}

// RecordResult acknowledges a recorded sample.
type RecordResult struct {
	ResultID string        `json:"result_id"`
	Variant  model.Variant `json:"variant"`
}

// AnalysisResult is the full statistical readout of an experiment.
type AnalysisResult struct {
	Experiment        *model.Experiment         `json:"test_config"`
	Metrics           []analysis.MetricAnalysis `json:"statistical_significance"`
	Recommendation    analysis.Recommendation   `json:"recommendations"`
	TotalParticipants int                       `json:"total_participants"`
}

// Service coordinates experiments against the store.
type Service struct {
	store store.Store
	cfg   config.ExperimentConfig
	now   func() time.Time
	newID func() string
}

// NewService creates an experiment service.
func NewService(st store.Store, cfg config.ExperimentConfig) *Service {
	return &Service{
		store: st,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create stores a new active experiment starting now.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Experiment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, model.InvalidInputf("experiment: %s", validationMessage(err))
	}

	split := s.cfg.DefaultTrafficSplit
	if split <= 0 {
		split = model.DefaultTrafficSplit
	}
	if req.TrafficSplit != nil {
		split = *req.TrafficSplit
	}
	days := req.DurationDays
	if days == 0 {
		days = s.cfg.DefaultDurationDays
	}
	if days <= 0 {
		days = model.DefaultDurationDays
	}
	metrics := req.SuccessMetrics
	if len(metrics) == 0 {
		metrics = append([]string(nil), model.DefaultSuccessMetrics...)
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "system"
	}

	now := s.now().UTC()
	exp := &model.Experiment{
		ID:      s.newID(),
		Name:    req.Name,
		Subject: req.Model,
		Variants: map[model.Variant]string{
			model.VariantControl:   req.ControlVersion,
			model.VariantTreatment: req.TreatmentVersion,
		},
		TrafficSplit:   split,
		Status:         model.ExperimentActive,
		StartAt:        now,
		EndAt:          now.AddDate(0, 0, days),
		SuccessMetrics: metrics,
		Metadata: model.ExperimentMetadata{
			CreatedBy:   createdBy,
			Description: req.Description,
			Hypothesis:  req.Hypothesis,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return nil, eris.Wrap(err, "experiment: create")
	}

	zap.L().Info("experiment: created",
		zap.String("experiment_id", exp.ID),
		zap.String("model", exp.Subject),
		zap.Int("traffic_split", exp.TrafficSplit),
	)
	return exp, nil
}

// Assign routes a subject to a variant of the model's running experiment and
// records the assignment. With no running experiment the subject is served
// the latest production version.
func (s *Service) Assign(ctx context.Context, subjectID, modelName string) (*AssignResult, error) {
	if subjectID == "" || modelName == "" {
		return nil, model.InvalidInputf("experiment: user_id and model_name are required")
	}

	now := s.now().UTC()
	exp, err := s.store.ActiveExperiment(ctx, modelName, now)
	if err != nil {
		return nil, eris.Wrapf(err, "experiment: find active experiment for %s", modelName)
	}
	if exp == nil {
		return &AssignResult{Variant: model.VariantProduction, Version: model.LatestVersion}, nil
	}

	variant, err := assign.Assign(subjectID, exp.ID, exp.TrafficSplit)
	if err != nil {
		return nil, err
	}
	res := &AssignResult{
		ExperimentID: exp.ID,
		Variant:      variant,
		Version:      exp.VersionFor(variant),
	}

	err = s.store.UpsertAssignment(ctx, model.Assignment{
		ExperimentID: exp.ID,
		SubjectID:    subjectID,
		Variant:      variant,
		Version:      res.Version,
		AssignedAt:   now,
	})
	if err != nil {
		return nil, eris.Wrap(err, "experiment: record assignment")
	}
	return res, nil
}

// Record appends an outcome sample. The variant is recomputed from the
// experiment's split so samples always agree with assignments.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, model.InvalidInputf("experiment: %s", validationMessage(err))
	}

	exp, err := s.store.GetExperiment(ctx, req.ExperimentID)
	if err != nil {
		return nil, err
	}
	variant, err := assign.Assign(req.SubjectID, exp.ID, exp.TrafficSplit)
	if err != nil {
		return nil, err
	}

	_, err = s.store.AppendSamples(ctx, []model.MetricSample{{
		ExperimentID: exp.ID,
		SubjectID:    req.SubjectID,
		Variant:      variant,
		Metric:       req.Metric,
		Value:        *req.Value,
		Context:      req.Context,
		RecordedAt:   s.now().UTC(),
	}})
	if err != nil {
		return nil, eris.Wrap(err, "experiment: record sample")
	}
	return &RecordResult{
		ResultID: strings.Join([]string{exp.ID, req.SubjectID, req.Metric}, ":"),
		Variant:  variant,
	}, nil
}

// Analyze compares variants on every success metric and recommends an action.
func (s *Service) Analyze(ctx context.Context, experimentID string) (*AnalysisResult, error) {
	if experimentID == "" {
		return nil, model.InvalidInputf("experiment: test_id is required")
	}
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	samples, err := s.store.ListSamples(ctx, experimentID)
	if err != nil {
		return nil, eris.Wrapf(err, "experiment: list samples %s", experimentID)
	}
	participants, err := s.store.CountParticipants(ctx, experimentID)
	if err != nil {
		return nil, eris.Wrapf(err, "experiment: count participants %s", experimentID)
	}

	grouped := groupSamples(samples)
	opts := analysis.Options{MinSamples: s.cfg.MinSamples, EffectThresholdPct: s.cfg.EffectThresholdPct}
	results := make([]analysis.MetricAnalysis, 0, len(exp.SuccessMetrics))
	for _, metric := range exp.SuccessMetrics {
		results = append(results, analysis.Analyze(metric,
			grouped[model.VariantControl][metric],
			grouped[model.VariantTreatment][metric],
			opts,
		))
	}

	return &AnalysisResult{
		Experiment:        exp,
		Metrics:           results,
		Recommendation:    analysis.Recommend(results),
		TotalParticipants: participants,
	}, nil
}

func groupSamples(samples []model.MetricSample) map[model.Variant]map[string][]float64 {
	out := map[model.Variant]map[string][]float64{
		model.VariantControl:   {},
		model.VariantTreatment: {},
	}
	for _, smp := range samples {
		byMetric, ok := out[smp.Variant]
		if !ok {
			continue
		}
		byMetric[smp.Metric] = append(byMetric[smp.Metric], smp.Value)
	}
	return out
}

// End marks an experiment completed.
func (s *Service) End(ctx context.Context, experimentID string) (*model.Experiment, error) {
	if experimentID == "" {
		return nil, model.InvalidInputf("experiment: test_id is required")
	}
	if err := s.store.UpdateExperimentStatus(ctx, experimentID, model.ExperimentCompleted); err != nil {
		return nil, err
	}
	zap.L().Info("experiment: ended", zap.String("experiment_id", experimentID))
	return s.store.GetExperiment(ctx, experimentID)
}

// List returns experiments newest first. status is active, completed or all
// (empty means all).
func (s *Service) List(ctx context.Context, status string) ([]model.Experiment, error) {
	filter := store.ExperimentFilter{}
	switch status {
	case "", "all":
	case string(model.ExperimentActive), string(model.ExperimentCompleted):
		filter.Status = model.ExperimentStatus(status)
	default:
		return nil, model.InvalidInputf("experiment: status %q must be active, completed or all", status)
	}
	exps, err := s.store.ListExperiments(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "experiment: list")
	}
	return exps, nil
}

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

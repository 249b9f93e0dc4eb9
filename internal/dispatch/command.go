// Package dispatch turns inbound events into typed commands and runs them
// against the services. Every entry point (Lambda, HTTP, CLI) goes through
// the same Dispatcher.
package dispatch

import (
	"github.com/PeterSoManLung/FindDinning/internal/experiment"
)

// Command is one operation the service can perform. The set is closed: only
// types in this package implement it.
type Command interface {
	// Action is the wire name of the command.
	Action() string
	command()
}

type CreateExperiment struct {
	experiment.CreateRequest
}

type AssignSubject struct {
	SubjectID string `json:"user_id"`
	Model     string `json:"model_name"`
}

type RecordResult struct {
	experiment.RecordRequest
}

type AnalyzeExperiment struct {
	ExperimentID string `json:"test_id"`
}

type EndExperiment struct {
	ExperimentID string `json:"test_id"`
}

type ListExperiments struct {
	Status string `json:"status"`
}

type CheckRetraining struct{}

type TriggerRetraining struct {
	Model  string `json:"model_name"`
	Reason string `json:"reason"`
}

type TrainingStatus struct {
	JobName string `json:"training_job_name"`
}

// ScheduleRetraining carries the run time as sent; it is parsed when the
// command runs so that a bad timestamp is reported as invalid input.
type ScheduleRetraining struct {
	Model        string `json:"model_name"`
	ScheduleTime string `json:"schedule_time"`
	Reason       string `json:"reason"`
}

type MonitorAll struct{}

type MonitorModel struct {
	Model string `json:"model_name"`
}

type CheckDrift struct {
	Model    string `json:"model_name"`
	DaysBack int    `json:"days_back"`
}

type PerformanceReport struct {
	DaysBack int `json:"days_back"`
}

type DeployModel struct {
	Model   string `json:"model_name"`
	Version string `json:"version"`
}

type RollbackModel struct {
	Model         string `json:"model_name"`
	TargetVersion string `json:"target_version"`
}

type ListVersions struct {
	Model string `json:"model_name"`
}

type DeleteVersion struct {
	Model   string `json:"model_name"`
	Version string `json:"version"`
}

// ModelUpload is one or more artifact uploads reported by object storage.
type ModelUpload struct {
	Objects []UploadedObject `json:"objects"`
}

// UploadedObject locates an uploaded artifact.
type UploadedObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type AnalyzeText struct {
	Text         string `json:"text"`
	AnalysisType string `json:"analysis_type"`
}

func (CreateExperiment) Action() string   { return "create_test" }
func (AssignSubject) Action() string      { return "assign_user" }
func (RecordResult) Action() string       { return "record_result" }
func (AnalyzeExperiment) Action() string  { return "analyze_test" }
func (EndExperiment) Action() string      { return "end_test" }
func (ListExperiments) Action() string    { return "list_tests" }
func (CheckRetraining) Action() string    { return "check_retraining_needed" }
func (TriggerRetraining) Action() string  { return "trigger_retraining" }
func (TrainingStatus) Action() string     { return "check_training_status" }
func (ScheduleRetraining) Action() string { return "schedule_retraining" }
func (MonitorAll) Action() string         { return "monitor_all" }
func (MonitorModel) Action() string       { return "monitor_model" }
func (CheckDrift) Action() string         { return "check_drift" }
func (PerformanceReport) Action() string  { return "generate_report" }
func (DeployModel) Action() string        { return "deploy_model" }
func (RollbackModel) Action() string      { return "rollback_model" }
func (ListVersions) Action() string       { return "list_versions" }
func (DeleteVersion) Action() string      { return "delete_version" }
func (ModelUpload) Action() string        { return "model_upload" }
func (AnalyzeText) Action() string        { return "analyze_text" }

func (CreateExperiment) command()   {}
func (AssignSubject) command()      {}
func (RecordResult) command()       {}
func (AnalyzeExperiment) command()  {}
func (EndExperiment) command()      {}
func (ListExperiments) command()    {}
func (CheckRetraining) command()    {}
func (TriggerRetraining) command()  {}
func (TrainingStatus) command()     {}
func (ScheduleRetraining) command() {}
func (MonitorAll) command()         {}
func (MonitorModel) command()       {}
func (CheckDrift) command()         {}
func (PerformanceReport) command()  {}
func (DeployModel) command()        {}
func (RollbackModel) command()      {}
func (ListVersions) command()       {}
func (DeleteVersion) command()      {}
func (ModelUpload) command()        {}
func (AnalyzeText) command()        {}

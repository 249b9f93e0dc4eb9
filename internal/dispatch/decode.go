package dispatch

import (
	"bytes"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"

	"github.com/PeterSoManLung/FindDinning/internal/model"
)

// Function is a deployable entry point. Each accepts its own subset of actions.
type Function string

const (
	FuncExperiments Function = "experiments"
	FuncRetraining  Function = "retraining"
	FuncMonitor     Function = "monitor"
	FuncVersions    Function = "versions"
	FuncNLP         Function = "nlp"
)

// Functions lists every entry point.
func Functions() []Function {
	return []Function{FuncExperiments, FuncRetraining, FuncMonitor, FuncVersions, FuncNLP}
}

// ParseFunction validates a function name.
func ParseFunction(s string) (Function, error) {
	f := Function(s)
	if _, ok := actions[f]; !ok {
		return "", model.InvalidInputf("unknown function %q", s)
	}
	return f, nil
}

type decoder func(raw []byte) (Command, error)

func decodeAs[T Command](raw []byte) (Command, error) {
	var c T
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, model.InvalidInputf("malformed %s request: %v", c.Action(), err)
		}
	}
	return c, nil
}

var actions = map[Function]map[string]decoder{
	FuncExperiments: {
		CreateExperiment{}.Action():  decodeAs[CreateExperiment],
		AssignSubject{}.Action():     decodeAs[AssignSubject],
		RecordResult{}.Action():      decodeAs[RecordResult],
		AnalyzeExperiment{}.Action(): decodeAs[AnalyzeExperiment],
		EndExperiment{}.Action():     decodeAs[EndExperiment],
		ListExperiments{}.Action():   decodeAs[ListExperiments],
	},
	FuncRetraining: {
		CheckRetraining{}.Action():    decodeAs[CheckRetraining],
		TriggerRetraining{}.Action():  decodeAs[TriggerRetraining],
		TrainingStatus{}.Action():     decodeAs[TrainingStatus],
		ScheduleRetraining{}.Action(): decodeAs[ScheduleRetraining],
	},
	FuncMonitor: {
		MonitorAll{}.Action():        decodeAs[MonitorAll],
		MonitorModel{}.Action():      decodeAs[MonitorModel],
		CheckDrift{}.Action():        decodeAs[CheckDrift],
		PerformanceReport{}.Action(): decodeAs[PerformanceReport],
	},
	FuncVersions: {
		DeployModel{}.Action():   decodeAs[DeployModel],
		RollbackModel{}.Action(): decodeAs[RollbackModel],
		ListVersions{}.Action():  decodeAs[ListVersions],
		DeleteVersion{}.Action(): decodeAs[DeleteVersion],
		ModelUpload{}.Action():   decodeAs[ModelUpload],
	},
	FuncNLP: {
		AnalyzeText{}.Action(): decodeAs[AnalyzeText],
	},
}

// defaultActions apply when an event carries no action.
var defaultActions = map[Function]string{
	FuncRetraining: CheckRetraining{}.Action(),
	FuncMonitor:    MonitorAll{}.Action(),
	FuncNLP:        AnalyzeText{}.Action(),
}

type envelope struct {
	Action  string          `json:"action"`
	Body    json.RawMessage `json:"body"`
	Records json.RawMessage `json:"Records"`
}

// Decode parses an inbound event for fn. API Gateway proxy events are
// unwrapped from their body; object storage notifications become a
// ModelUpload. An action fn does not accept is rejected here, so the
// dispatcher only ever sees known commands.
func Decode(fn Function, payload []byte) (Command, error) {
	table, ok := actions[fn]
	if !ok {
		return nil, model.InvalidInputf("unknown function %q", fn)
	}

	payload, env, err := unwrap(payload)
	if err != nil {
		return nil, err
	}

	if len(env.Records) > 0 && fn == FuncVersions {
		return decodeS3Event(payload)
	}

	action := env.Action
	if action == "" {
		action = defaultActions[fn]
	}
	if fn == FuncNLP {
		action = AnalyzeText{}.Action()
	}
	dec, ok := table[action]
	if !ok {
		return nil, model.InvalidInputf("Unknown action: %s", env.Action)
	}
	return dec(payload)
}

func unwrap(payload []byte) ([]byte, envelope, error) {
	var env envelope
	if len(bytes.TrimSpace(payload)) == 0 {
		return payload, env, nil
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, env, model.InvalidInputf("malformed event: %v", err)
	}
	if len(env.Body) == 0 || bytes.Equal(env.Body, []byte("null")) {
		return payload, env, nil
	}

	body := env.Body
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		body = []byte(s)
	}
	var inner envelope
	if err := json.Unmarshal(body, &inner); err != nil {
		return nil, env, model.InvalidInputf("malformed event body: %v", err)
	}
	if inner.Action == "" {
		inner.Action = env.Action
	}
	return body, inner, nil
}

func decodeS3Event(payload []byte) (Command, error) {
	var ev events.S3Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, model.InvalidInputf("malformed storage event: %v", err)
	}
	cmd := ModelUpload{Objects: make([]UploadedObject, 0, len(ev.Records))}
	for _, rec := range ev.Records {
		key := rec.S3.Object.URLDecodedKey
		if key == "" {
			key = rec.S3.Object.Key
		}
		cmd.Objects = append(cmd.Objects, UploadedObject{Bucket: rec.S3.Bucket.Name, Key: key})
	}
	return cmd, nil
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/PeterSoManLung/FindDinning/internal/dispatch"
)

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.CreateExperiment
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, cmd)
}

func (s *Server) listExperiments(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.ListExperiments{Status: r.URL.Query().Get("status")})
}

func (s *Server) assignSubject(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.AssignSubject
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, cmd)
}

func (s *Server) recordResult(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.RecordResult
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	cmd.ExperimentID = chi.URLParam(r, "id")
	s.run(w, r, cmd)
}

func (s *Server) analyzeExperiment(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.AnalyzeExperiment{ExperimentID: chi.URLParam(r, "id")})
}

func (s *Server) endExperiment(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.EndExperiment{ExperimentID: chi.URLParam(r, "id")})
}

func (s *Server) checkRetraining(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.CheckRetraining{})
}

func (s *Server) triggerRetraining(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.TriggerRetraining
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, cmd)
}

func (s *Server) scheduleRetraining(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.ScheduleRetraining
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, cmd)
}

func (s *Server) trainingStatus(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.TrainingStatus{JobName: chi.URLParam(r, "name")})
}

func (s *Server) monitorAll(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.MonitorAll{})
}

func (s *Server) monitorModel(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.MonitorModel{Model: chi.URLParam(r, "model")})
}

func (s *Server) checkDrift(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, dispatch.CheckDrift{Model: chi.URLParam(r, "model"), DaysBack: days})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, dispatch.PerformanceReport{DaysBack: days})
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.ListVersions{Model: chi.URLParam(r, "model")})
}

func (s *Server) deployModel(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.DeployModel
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	cmd.Model = chi.URLParam(r, "model")
	s.run(w, r, cmd)
}

func (s *Server) rollbackModel(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.RollbackModel
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	cmd.Model = chi.URLParam(r, "model")
	s.run(w, r, cmd)
}

func (s *Server) deleteVersion(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, dispatch.DeleteVersion{Model: chi.URLParam(r, "model"), Version: chi.URLParam(r, "version")})
}

func (s *Server) analyzeText(w http.ResponseWriter, r *http.Request) {
	var cmd dispatch.AnalyzeText
	if err := decode(r, &cmd); err != nil {
		s.fail(w, err)
		return
	}
	s.run(w, r, cmd)
}

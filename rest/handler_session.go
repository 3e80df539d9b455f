package rest

import (
	"encoding/json"
	"net/http"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var runReq model.SessionRunRequest
	if err := json.NewDecoder(r.Body).Decode(&runReq); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	sessionId, err := s.executionService.StartSession(runReq.Name, runReq.Input)
	if err != nil {
		logger.Error("error starting session", zap.String("workflow", runReq.Name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"sessionId": sessionId})
}

func (s *Server) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	session, err := s.executionService.Status(id)
	if err != nil {
		logger.Info("session not found", zap.String("session", id))
		respondWithError(w, http.StatusNotFound, "session not found")
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (s *Server) HandleResumeSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var decision model.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	if err := s.executionService.Resume(id, decision); err != nil {
		logger.Error("error resuming session", zap.String("session", id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"resumed": true})
}

func (s *Server) HandleAbortSession(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.executionService.Abort(id); err != nil {
		logger.Error("error aborting session", zap.String("session", id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"aborted": true})
}

func (s *Server) HandleSessionReport(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	report, err := s.executionService.Report(id)
	if err != nil {
		logger.Info("report not available", zap.String("session", id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

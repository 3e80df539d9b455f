package rest

import (
	"encoding/json"
	"net/http"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	err := s.metadataService.SaveWorkflowDefinition(def)
	if err != nil {
		logger.Error("error creating workflow", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	def, err := s.metadataService.GetWorkflowDefinition(name)
	if err != nil {
		logger.Info("workflow does not exist", zap.String("name", name))
		respondWithError(w, http.StatusNotFound, "workflow does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.metadataService.DeleteWorkflowDefinition(name); err != nil {
		logger.Error("error deleting workflow", zap.String("name", name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error deleting workflow")
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandleCreateCapability(w http.ResponseWriter, r *http.Request) {
	var capDef model.CapabilityDefinition
	if err := json.NewDecoder(r.Body).Decode(&capDef); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	err := s.metadataService.SaveCapabilityDefinition(capDef)
	if err != nil {
		logger.Error("error creating capability definition", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, map[string]any{"created": true})
}

func (s *Server) HandleGetCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	capDef, err := s.metadataService.GetCapabilityDefinition(name)
	if err != nil {
		logger.Info("capability definition not found", zap.String("name", name))
		respondWithError(w, http.StatusNotFound, "capability definition not found")
		return
	}
	respondWithJSON(w, http.StatusOK, capDef)
}

func (s *Server) HandleDeleteCapability(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, ok := vars["name"]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.metadataService.DeleteCapabilityDefinition(name); err != nil {
		logger.Error("error deleting capability definition", zap.String("name", name), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, "error deleting capability definition")
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

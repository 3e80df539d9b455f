package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avovello/stagerun/logger"
	"github.com/avovello/stagerun/metadata"
	"github.com/avovello/stagerun/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port             int
	metadataService  metadata.MetadataService
	executionService *service.ExecutionService
}

func NewServer(httpPort int, metadataService metadata.MetadataService, executionService *service.ExecutionService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		metadataService:  metadataService,
		executionService: executionService,
		Port:             httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/workflow", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflow/{name}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflow/{name}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/capability", s.HandleCreateCapability).Methods(http.MethodPost)
	router.HandleFunc("/capability/{name}", s.HandleGetCapability).Methods(http.MethodGet)
	router.HandleFunc("/capability/{name}", s.HandleDeleteCapability).Methods(http.MethodDelete)
	router.HandleFunc("/session/execute", s.HandleStartSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}", s.HandleSessionStatus).Methods(http.MethodGet)
	router.HandleFunc("/session/{id}/resume", s.HandleResumeSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/abort", s.HandleAbortSession).Methods(http.MethodPost)
	router.HandleFunc("/session/{id}/report", s.HandleSessionReport).Methods(http.MethodGet)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, payload map[string]any) {
	respondWithJSON(w, http.StatusOK, payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

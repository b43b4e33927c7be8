// Package server exposes the prediction engine over HTTP: REST endpoints
// for inference, feedback, training, and model monitoring, plus a WebSocket
// stream of live training progress.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"riskengine/internal/predict"
	"riskengine/internal/storage"
	"riskengine/internal/training"
)

// Server is the engine's HTTP front end.
type Server struct {
	predictions *predict.Service
	trainer     *training.Orchestrator
	store       *storage.Store

	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

func New(predictions *predict.Service, trainer *training.Orchestrator, store *storage.Store, port int) *Server {
	s := &Server{
		predictions: predictions,
		trainer:     trainer,
		store:       store,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/v1/predictions", s.handlePredict).Methods("POST")
	r.HandleFunc("/api/v1/predictions/{id}", s.handleGetPrediction).Methods("GET")
	r.HandleFunc("/api/v1/feedback", s.handleFeedback).Methods("POST")
	r.HandleFunc("/api/v1/training/runs", s.handleTriggerTraining).Methods("POST")
	r.HandleFunc("/api/v1/training/runs", s.handleListTrainingRuns).Methods("GET")
	r.HandleFunc("/api/v1/models/metrics", s.handleModelMetrics).Methods("GET")
	r.HandleFunc("/api/v1/models/settings", s.handleUpdateSettings).Methods("PUT")
	r.HandleFunc("/ws/training", s.handleTrainingStream).Methods("GET")
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type predictRequest struct {
	EntityID       string `json:"entityId"`
	OrganisationID string `json:"organisationId"`
	IsTest         bool   `json:"isTest"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.EntityID == "" || req.OrganisationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("entityId and organisationId are required"))
		return
	}

	res, err := s.predictions.PredictBreach(r.Context(), req.EntityID, req.OrganisationID, req.IsTest)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organisationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId is required"))
		return
	}

	p, err := s.predictions.GetPrediction(orgID, mux.Vars(r)["id"])
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type feedbackRequest struct {
	OrganisationID string `json:"organisationId"`
	predict.FeedbackInput
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.OrganisationID == "" || req.PredictionID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId and predictionId are required"))
		return
	}

	f, err := s.predictions.SubmitFeedback(req.OrganisationID, req.FeedbackInput)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type trainingRequest struct {
	OrganisationID string                   `json:"organisationId"`
	Overrides      *storage.Hyperparameters `json:"overrides,omitempty"`
	Wait           bool                     `json:"wait,omitempty"`
}

func (s *Server) handleTriggerTraining(w http.ResponseWriter, r *http.Request) {
	var req trainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.OrganisationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId is required"))
		return
	}

	if req.Wait {
		sum, err := s.trainer.Run(r.Context(), req.OrganisationID, req.Overrides)
		if err != nil {
			writeTrainingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	runID, err := s.trainer.Trigger(req.OrganisationID, req.Overrides)
	if err != nil {
		writeTrainingError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) handleListTrainingRuns(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organisationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId is required"))
		return
	}

	runs, err := s.store.RecentTrainingRuns(orgID, r.URL.Query().Get("predictionType"), 20)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleModelMetrics(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organisationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId is required"))
		return
	}

	mm, err := s.predictions.GetModelMetrics(orgID)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mm)
}

type settingsRequest struct {
	OrganisationID string             `json:"organisationId"`
	LearningRate   float64            `json:"learningRate,omitempty"`
	Epochs         int                `json:"epochs,omitempty"`
	BatchSize      int                `json:"batchSize,omitempty"`
	FeatureWeights map[string]float64 `json:"featureWeights,omitempty"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.OrganisationID == "" {
		writeError(w, http.StatusBadRequest, errors.New("organisationId is required"))
		return
	}

	m, err := s.predictions.UpdateModelSettings(req.OrganisationID, storage.Hyperparameters{
		LearningRate: req.LearningRate,
		Epochs:       req.Epochs,
		BatchSize:    req.BatchSize,
	}, req.FeatureWeights)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleTrainingStream pushes live training progress over a WebSocket. An
// optional organisationId query filters events to one organisation.
func (s *Server) handleTrainingStream(w http.ResponseWriter, r *http.Request) {
	orgFilter := r.URL.Query().Get("organisationId")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.trainer.Subscribe()
	defer cancel()

	// drain client frames so close messages are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if orgFilter != "" && ev.OrganisationID != orgFilter {
				continue
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeTrainingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, training.ErrAlreadyTraining):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, training.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

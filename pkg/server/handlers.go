package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chorus/pkg/history"
	"github.com/go-go-golems/chorus/pkg/models"
	"github.com/go-go-golems/chorus/pkg/profiles"
	"github.com/go-go-golems/chorus/pkg/streaming"
)

type chatRequest struct {
	streaming.Request
	// Profile names a preset that fills in model config and weights.
	Profile string `json:"profile,omitempty"`
}

type chatResponse struct {
	ConversationID string   `json:"conversationId"`
	Models         []string `json:"models"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		http.Error(w, "missing prompt", http.StatusBadRequest)
		return
	}
	if req.Profile != "" {
		prof, ok := s.cfg.Profiles.Get(req.Profile)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown profile %q", req.Profile), http.StatusBadRequest)
			return
		}
		applyProfile(&req.Request, prof)
	}

	session, ctx, err := s.cfg.Orchestrator.StartStream(req.Request)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, streaming.ErrCapacityExceeded):
			status = http.StatusTooManyRequests
		case errors.Is(err, streaming.ErrStreamActive):
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	launch := req.Request
	go func() {
		if err := s.cfg.Orchestrator.ProcessStreamingRequest(ctx, session, launch); err != nil {
			log.Warn().
				Err(err).
				Str("component", "http").
				Str("conv_id", session.ConversationID()).
				Msg("stream ended with error")
		}
	}()

	writeJSON(w, http.StatusAccepted, chatResponse{
		ConversationID: session.ConversationID(),
		Models:         adapterNames(s.cfg.Models.Enabled(req.ModelConfig)),
	})
}

// applyProfile fills request gaps from the preset. Explicit request values
// win: a request-level model config replaces the preset's wholesale, and
// request weights override preset weights per model.
func applyProfile(req *streaming.Request, prof profiles.Profile) {
	if req.ModelConfig == nil && prof.Models != nil {
		req.ModelConfig = prof.Models
	}
	if len(prof.Weights) > 0 {
		merged := make(map[string]float64, len(prof.Weights)+len(req.CustomWeights))
		for model, weight := range prof.Weights {
			merged[model] = weight
		}
		for model, weight := range req.CustomWeights {
			merged[model] = weight
		}
		req.CustomWeights = merged
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Registry.Stats())
}

type modelInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	CanStream bool   `json:"canStream"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	names := s.cfg.Models.Names()
	infos := make([]modelInfo, 0, len(names))
	for _, name := range names {
		adapter, ok := s.cfg.Models.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, modelInfo{
			Name:      name,
			Available: adapter.Available(),
			CanStream: models.CanStream(adapter),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Synth.Weights())
}

type weightUpdate struct {
	Model string  `json:"model"`
	Delta float64 `json:"delta"`
}

type weightResponse struct {
	Model  string  `json:"model"`
	Weight float64 `json:"weight"`
}

func (s *Server) handleUpdateWeight(w http.ResponseWriter, r *http.Request) {
	var upd weightUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	weight, err := s.cfg.Synth.UpdateWeight(upd.Model, upd.Delta)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, weightResponse{Model: upd.Model, Weight: weight})
}

func (s *Server) handleResetWeights(w http.ResponseWriter, r *http.Request) {
	s.cfg.Synth.ResetWeights()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		http.Error(w, "history store not configured", http.StatusServiceUnavailable)
		return
	}
	conv := chi.URLParam(r, "conv")
	records, err := s.cfg.History.Records(r.Context(), conv)
	if err != nil {
		log.Error().Err(err).Str("component", "http").Str("conv_id", conv).Msg("history query failed")
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conv := strings.TrimSpace(r.URL.Query().Get("conv"))
	if conv == "" {
		http.Error(w, "missing conv parameter", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	if _, err := s.cfg.WS.Attach(conv, conn); err != nil {
		_ = conn.Close()
	}
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if _, err := s.cfg.Rooms.Attach(conn); err != nil {
		_ = conn.Close()
	}
}

func adapterNames(adapters []models.Adapter) []string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}
	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

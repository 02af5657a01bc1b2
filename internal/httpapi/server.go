// Package httpapi exposes the orchestrator over HTTP: synchronous and
// streaming query endpoints, queue management, persona listings and the
// lifecycle event stream.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/events"
	"github.com/hydra-lab/queryd/internal/orchestrator"
)

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	orch   *orchestrator.Orchestrator
	bus    *events.Bus
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// NewServer builds the HTTP layer over an orchestrator.
func NewServer(orch *orchestrator.Orchestrator, bus *events.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:   orch,
		bus:    bus,
		logger: logger,
		jobs:   make(map[string]*job),
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/query", s.handleQuery)
	mux.HandleFunc("POST /v1/query/stream", s.handleQueryStream)
	mux.HandleFunc("POST /v1/query/batch", s.handleBatch)
	mux.HandleFunc("POST /v1/queue", s.handleEnqueue)
	mux.HandleFunc("GET /v1/queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /v1/queue/{id}", s.handleQueueGet)
	mux.HandleFunc("DELETE /v1/queue/{id}", s.handleQueueCancel)
	mux.HandleFunc("GET /v1/personas", s.handlePersonas)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type personaInfo struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	ModelTier string   `json:"model_tier"`
	Keywords  []string `json:"keywords"`
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	router := s.orch.Router()
	stats := router.Stats()

	out := struct {
		Personas []personaInfo `json:"personas"`
		Stats    any           `json:"stats"`
	}{Stats: stats}
	for _, p := range router.Registry().Personas() {
		out.Personas = append(out.Personas, personaInfo{
			Name:      p.Name,
			Role:      p.Role,
			ModelTier: string(p.ModelTier),
			Keywords:  p.Keywords,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

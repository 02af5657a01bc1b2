package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/hydra-lab/queryd/internal/orchestrator"
)

// job tracks an enqueued request so its result can be fetched later.
type job struct {
	pending *orchestrator.Pending
	cancel  context.CancelFunc
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	req, err := decodeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Queued work outlives the enqueue request; it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	pending, err := s.orch.Enqueue(ctx, req.Prompt, req.options())
	if err != nil {
		cancel()
		if errors.Is(err, orchestrator.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = &job{pending: pending, cancel: cancel}
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown job id"))
		return
	}

	result, err := j.pending.Wait(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up waiting; the job itself is still running.
			writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
			return
		}
		s.removeJob(id)
		if errors.Is(err, orchestrator.ErrCancelled) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
			return
		}
		writeError(w, statusForError(err), err)
		return
	}
	s.removeJob(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "done", "result": result})
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown job id"))
		return
	}

	cancelled := j.pending.Cancel()
	j.cancel()
	if cancelled {
		s.removeJob(id)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.QueueStats())
}

func (s *Server) removeJob(id string) {
	s.mu.Lock()
	if j, ok := s.jobs[id]; ok {
		j.cancel()
		delete(s.jobs, id)
	}
	s.mu.Unlock()
}

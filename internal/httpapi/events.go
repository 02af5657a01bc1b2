package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hydra-lab/queryd/internal/events"
)

// heartbeatInterval keeps SSE connections alive through idle proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents streams orchestration lifecycle events over SSE.
// GET /v1/events?request_id=<id>&last_event_id=<seq>
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	requestID := r.URL.Query().Get("request_id")
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(ch)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	// Replay the retained backlog before tailing live events.
	if lastID > 0 {
		for _, evt := range s.bus.ReplaySince(lastID) {
			writeSSE(w, evt, requestID)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream client disconnected",
				zap.String("request_id", requestID))
			return
		case evt := <-ch:
			writeSSE(w, evt, requestID)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt events.Event, requestID string) {
	if requestID != "" && evt.RequestID != requestID {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, data)
}

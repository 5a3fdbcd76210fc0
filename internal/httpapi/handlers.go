package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/utkarsh5026/offload/pool"
)

type submitResponse struct {
	ID string `json:"id"`
}

type outcomeResponse struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Result     []byte     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	ProducedAt *time.Time `json:"produced_at,omitempty"`
}

type statsResponse struct {
	QueueSize        int     `json:"queue_size"`
	QueueCapacity    int     `json:"queue_capacity"`
	ResultsCount     int     `json:"results_count"`
	PendingCount     int     `json:"pending_count"`
	WorkerThreads    int     `json:"worker_threads"`
	MemoryUsedBytes  int64   `json:"memory_used_bytes"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes"`
	ResultTTLSeconds float64 `json:"result_ttl_seconds"`
	Submitted        uint64  `json:"submitted"`
	Rejected         uint64  `json:"rejected"`
	Succeeded        uint64  `json:"succeeded"`
	Failed           uint64  `json:"failed"`
	Dropped          uint64  `json:"dropped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit takes the raw request body as the payload and the optional
// priority query parameter.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	priority := 0
	if p := r.URL.Query().Get("priority"); p != "" {
		v, err := strconv.Atoi(p)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		priority = v
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	id, err := s.rt.Submit(body, priority)
	switch {
	case errors.Is(err, pool.ErrCapacityExceeded):
		s.writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, pool.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error("submit task", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	out, err := s.rt.GetResult(chi.URLParam(r, "id"))
	s.writeOutcome(w, out, err)
}

// handleAwait blocks until the task finishes or the timeout query parameter
// (default 30s, capped at one minute) elapses.
func (s *Server) handleAwait(w http.ResponseWriter, r *http.Request) {
	timeout := 30 * time.Second
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = min(d, maxAwait)
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	out, err := s.rt.Await(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	s.writeOutcome(w, out, err)
}

func (s *Server) handleClearAll(w http.ResponseWriter, _ *http.Request) {
	s.rt.ClearAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	st := s.rt.Stats()
	s.writeJSON(w, http.StatusOK, statsResponse{
		QueueSize:        st.QueueSize,
		QueueCapacity:    st.QueueCapacity,
		ResultsCount:     st.ResultsCount,
		PendingCount:     st.PendingCount,
		WorkerThreads:    st.WorkerThreads,
		MemoryUsedBytes:  st.MemoryUsedBytes,
		MemoryLimitBytes: st.MemoryLimitBytes,
		ResultTTLSeconds: st.ResultTTL.Seconds(),
		Submitted:        st.Submitted,
		Rejected:         st.Rejected,
		Succeeded:        st.Succeeded,
		Failed:           st.Failed,
		Dropped:          st.Dropped,
	})
}

// writeOutcome maps an outcome to 200 when final, 202 while processing and
// 404 when the id is unknown or gone.
func (s *Server) writeOutcome(w http.ResponseWriter, out pool.Outcome, err error) {
	if errors.Is(err, pool.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error("get result", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read result")
		return
	}

	resp := outcomeResponse{
		ID:     out.TaskID,
		Status: out.Status.String(),
		Result: out.Payload,
		Error:  out.Err,
	}
	if !out.ProducedAt.IsZero() {
		at := out.ProducedAt.UTC()
		resp.ProducedAt = &at
	}

	status := http.StatusOK
	if !out.Done() {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

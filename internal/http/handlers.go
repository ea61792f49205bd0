package http

import (
	"net/http"

	"registro/internal/cache"
	"registro/internal/calc"
	"registro/internal/core"
	"registro/internal/diff"
	"registro/internal/log"
	"registro/internal/middleware/ratelimit"
	"registro/internal/middleware/trace"
	"registro/internal/pipeline"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports ready once the pipeline runs and has published a
// snapshot.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.IsRunning() || s.pipeline.CurrentSnapshot() == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.pipeline.CurrentSnapshot()
	if snap == nil {
		ServiceUnavailableError("snapshot not computed yet").Write(w)
		return
	}
	NewResponse().JSON(snap).Write(w)
}

type diffResponse struct {
	Generation uint64      `json:"generation"`
	Counts     diff.Counts `json:"counts"`
	diff.Result
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	gen, d := s.pipeline.CurrentDiff()
	NewResponse().JSON(diffResponse{
		Generation: gen,
		Counts:     d.Counts(),
		Result:     d,
	}).Write(w)
}

type statusResponse struct {
	Pipeline  pipeline.Status    `json:"pipeline"`
	HTTP      trace.Metrics      `json:"http"`
	RateLimit *ratelimit.Metrics `json:"rate_limit,omitempty"`
	Cache     *cache.Stats       `json:"query_cache,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Pipeline: s.pipeline.Status(),
		HTTP:     s.trace.GetMetrics(),
	}
	if s.limiter != nil {
		m := s.limiter.GetMetrics()
		resp.RateLimit = &m
	}
	if s.query != nil && s.query.Cache() != nil {
		stats := s.query.CacheStats()
		resp.Cache = &stats
	}
	NewResponse().JSON(resp).Write(w)
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	mode, err := parseMode(r.URL.Query())
	if err != nil {
		FromError(err).Write(w)
		return
	}
	tabs, err := s.query.Selectable(r.Context(), mode)
	if err != nil {
		s.fail(w, r, "list windows", err)
		return
	}
	NewResponse().JSON(tabs).Write(w)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(s.ledger.Catalog()).Write(w)
}

func (s *Server) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	var req WindowRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	win, err := req.Window()
	if err == nil {
		err = s.pipeline.SetWindow(win)
	}
	if err != nil {
		FromError(err).Write(w)
		return
	}
	NewResponse().Status(http.StatusAccepted).JSON(map[string]core.Window{"window": win}).Write(w)
}

func (s *Server) handleSetKind(w http.ResponseWriter, r *http.Request) {
	var req KindRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	kind, err := core.ParseKind(req.Kind)
	if err == nil {
		err = s.pipeline.ChangeActiveKind(kind)
	}
	if err != nil {
		FromError(err).Write(w)
		return
	}
	NewResponse().Status(http.StatusAccepted).JSON(map[string]core.Kind{"kind": kind}).Write(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rec, err := s.ledger.GetRecord(r.Context(), s.query.OwnerID(), id)
	if err != nil {
		s.fail(w, r, "get record", err)
		return
	}
	NewResponse().JSON(rec).Write(w)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	s.saveRecord(w, r, 0)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	s.saveRecord(w, r, id)
}

func (s *Server) saveRecord(w http.ResponseWriter, r *http.Request, id int64) {
	var req RecordRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	rec, err := req.Record(s.query.OwnerID(), id)
	if err != nil {
		FromError(err).Write(w)
		return
	}
	saved, err := s.ledger.SaveRecord(r.Context(), rec)
	if err != nil {
		s.fail(w, r, "save record", err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	NewResponse().Status(status).JSON(saved).Write(w)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.ledger.DeleteRecord(r.Context(), s.query.OwnerID(), id); err != nil {
		s.fail(w, r, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type calcResponse struct {
	Expression string          `json:"expression"`
	Preview    string          `json:"preview"`
	Rejected   int             `json:"rejected_keys"`
	Display    string          `json:"display"`
	UnitHint   string          `json:"unit_hint,omitempty"`
	Suggestion calc.Suggestion `json:"suggestion"`
}

// handleCalc replays keypad presses on an expression, then evaluates it the
// way the entry form's Done key does.
func (s *Server) handleCalc(w http.ResponseWriter, r *http.Request) {
	var req CalcRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	c := calc.NewCalculator(req.Expression)
	rejected, err := c.PressAll(req.Keys)
	if err != nil {
		FromError(err).Write(w)
		return
	}
	preview := c.Display()
	sug, err := c.Done()
	if err != nil {
		FromError(err).Write(w)
		return
	}
	NewResponse().JSON(calcResponse{
		Expression: c.Expression(),
		Preview:    preview,
		Rejected:   rejected,
		Display:    sug.Amount.Format(),
		UnitHint:   sug.Amount.UnitHint(),
		Suggestion: sug,
	}).Write(w)
}

// fail writes the response for err, logging it when it is not a client
// error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := FromError(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op,
			log.FieldError, err)
		resp.body = ErrorBody{Error: "internal error", RequestID: trace.GetRequestID(r.Context())}
	}
	resp.Write(w)
}

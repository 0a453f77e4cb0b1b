package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/examclean/internal/consolidate"
	"github.com/sells-group/examclean/internal/input"
	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/orchestrator"
	"github.com/sells-group/examclean/internal/review"
	"github.com/sells-group/examclean/internal/session"
)

const maxBodyBytes = 32 << 20

// runSummary is a run result without its records.
type runSummary struct {
	Strategy     orchestrator.Strategy `json:"strategy"`
	FellBack     bool                  `json:"fell_back"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	BatchID      string                `json:"batch_id,omitempty"`
	PollTimedOut bool                  `json:"poll_timed_out,omitempty"`
	Degraded     bool                  `json:"degraded,omitempty"`
	Notice       string                `json:"notice,omitempty"`
	ResultsURL   string                `json:"results_url,omitempty"`
	Warnings     []string              `json:"warnings,omitempty"`
	Stats        consolidate.Stats     `json:"stats"`
}

func (s *Server) summarize(res *orchestrator.RunResult) runSummary {
	return runSummary{
		Strategy:     res.Strategy,
		FellBack:     res.FellBack,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		BatchID:      res.BatchID,
		PollTimedOut: res.PollTimedOut,
		Degraded:     res.Degraded,
		Notice:       res.Notice,
		ResultsURL:   res.ResultsURL,
		Warnings:     res.Warnings,
		Stats:        s.sess.Stats(),
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	exams, err := input.ReadJSON(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(exams) == 0 {
		writeError(w, http.StatusBadRequest, "no exams with an exam name")
		return
	}

	res, err := s.sess.Process(r.Context(), exams)
	if err != nil {
		zap.L().Error("api: run failed", zap.Int("exams", len(exams)), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(res))
}

func (s *Server) handleLastRun(w http.ResponseWriter, _ *http.Request) {
	res := s.sess.LastRun()
	if res == nil {
		writeError(w, http.StatusNotFound, "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(res))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Stats())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	ts, err := toolbarFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sess.Query(ts))
}

func toolbarFromQuery(q url.Values) (review.ToolbarState, error) {
	ts := review.ToolbarState{
		Status: review.StatusFilter(q.Get("status")),
		Search: q.Get("search"),
		Sort:   review.SortMode(q.Get("sort")),
	}
	for _, f := range strings.Split(q.Get("flags"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			ts.Flags = append(ts.Flags, model.AttentionFlag(f))
		}
	}
	if v := q.Get("fuzzy"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return ts, errors.New("fuzzy must be a boolean")
		}
		ts.Fuzzy = b
	}
	if v := q.Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return ts, errors.New("threshold must be a number between 0 and 1")
		}
		ts.ConfidenceThreshold = f
	}
	return ts, nil
}

type decisionRequest struct {
	Decision model.Decision `json:"decision"`
	Notes    string         `json:"notes"`
}

func decodeDecision(r *http.Request) (decisionRequest, error) {
	var req decisionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	return req, nil
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	e, ok := s.sess.Entry(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown mapping id")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	req, err := decodeDecision(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.sess.Decide(chi.URLParam(r, "id"), req.Decision, req.Notes)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleUnapprove(w http.ResponseWriter, r *http.Request) {
	e, err := s.sess.Unapprove(chi.URLParam(r, "id"))
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleGroupDecision(w http.ResponseWriter, r *http.Request) {
	key, err := groupKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid group key")
		return
	}
	req, err := decodeDecision(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.sess.DecideGroup(key, req.Decision)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// groupKey returns the decoded {key} parameter. chi matches on RawPath when
// the request has one, and the parameter is still escaped in that case.
func groupKey(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	return url.PathUnescape(key)
}

func writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrUnknownEntry), errors.Is(err, session.ErrUnknownGroup):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, review.ErrInvalidDecision), errors.Is(err, review.ErrBulkModify):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	res, err := s.sess.Commit(r.Context())
	if err != nil {
		zap.L().Error("api: commit failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st session.Settings
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(st.Model) == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	s.sess.SetSettings(st)
	writeJSON(w, http.StatusOK, s.sess.Settings())
}

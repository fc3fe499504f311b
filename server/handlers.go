package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/generation"
	"github.com/poiesic/folio/ingestion"
)

type turnJSON struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

type queryRequest struct {
	Query   string     `json:"query"`
	History []turnJSON `json:"history,omitempty"`
}

type queryResponse struct {
	TurnID   string        `json:"turn_id"`
	Answer   string        `json:"answer"`
	Sources  []core.Source `json:"sources"`
	Fallback bool          `json:"fallback"`
}

type embedRequest struct {
	TextbookURL string `json:"textbook_url"`
}

type embedResponse struct {
	Message         string `json:"message"`
	ChunksProcessed int    `json:"chunks_processed"`
	Documents       int    `json:"documents"`
	Failed          int    `json:"failed"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	var opts []generation.AnswerOption
	if len(req.History) > 0 {
		turns := make([]generation.Turn, len(req.History))
		for i, h := range req.History {
			turns[i] = generation.Turn{Query: h.Query, Answer: h.Answer}
		}
		opts = append(opts, generation.WithHistory(turns...))
	}

	answer, err := s.answerer.Answer(r.Context(), req.Query, opts...)
	if err != nil {
		s.metrics.queries.WithLabelValues(outcomeError).Inc()
		s.logger.Error("query failed", "err", err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	outcome := outcomeAnswered
	if answer.Fallback {
		outcome = outcomeFallback
	}
	s.metrics.queries.WithLabelValues(outcome).Inc()
	s.respondJSON(w, http.StatusOK, queryResponse{
		TurnID:   answer.TurnID.String(),
		Answer:   answer.Text,
		Sources:  answer.Sources,
		Fallback: answer.Fallback,
	})
}

func (s *Server) handleEmbedTextbook(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := url.Parse(strings.TrimSpace(req.TextbookURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.respondError(w, http.StatusBadRequest, "textbook_url must be an http(s) URL")
		return
	}

	var report *ingestion.Report
	if strings.HasSuffix(u.Path, ".xml") {
		report, err = s.ingester.IngestSitemap(r.Context(), u.String())
	} else {
		report, err = s.ingester.IngestRefs(r.Context(), u.String())
	}
	if report != nil {
		s.metrics.chunks.Add(float64(report.ChunksStored()))
		for _, doc := range report.Documents {
			s.metrics.docs.WithLabelValues(string(doc.Status)).Inc()
		}
	}
	if err != nil {
		s.logger.Error("embedding textbook failed", "url", u.String(), "err", err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Info("embedded textbook", "url", u.String(), "chunks", report.ChunksStored(), "documents", len(report.Documents))
	s.respondJSON(w, http.StatusOK, embedResponse{
		Message:         "Textbook successfully embedded",
		ChunksProcessed: report.ChunksStored(),
		Documents:       len(report.Documents),
		Failed:          report.Count(ingestion.StatusFailed),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.inventory.Count(r.Context())
	if err != nil {
		s.logger.Error("health: count failed", "err", err)
		s.respondJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:     "unavailable",
			Collection: s.inventory.Collection(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, healthResponse{
		Status:     "healthy",
		Collection: s.inventory.Collection(),
		Count:      count,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInput):
		return http.StatusBadRequest
	case core.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/askdb/internal/pipeline"
)

// maxBodyBytes caps the /ask request body.
const maxBodyBytes = 1 << 20

// healthTimeout bounds the database ping behind /health.
const healthTimeout = 2 * time.Second

type askRequest struct {
	Question string `json:"question"`
}

// statusFor maps a pipeline outcome to its HTTP status.
func statusFor(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindNone:
		return http.StatusOK
	case pipeline.KindAPIQuota:
		return http.StatusPaymentRequired
	case pipeline.KindAPIQuotaPartial:
		return http.StatusPartialContent
	case pipeline.KindDatabase:
		return http.StatusServiceUnavailable
	case pipeline.KindServerError:
		return http.StatusInternalServerError
	case pipeline.KindInvalidRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondInvalid(w, "invalid request body", err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		s.respondInvalid(w, "question must not be empty", "empty question")
		return
	}

	s.logger.Info("received question",
		"question", truncate(question, maxArgLogLen),
		"request_id", requestIDFrom(r.Context()),
	)

	res := s.asker.Run(r.Context(), question)
	if res.Failed() {
		s.logger.Warn("question not answered",
			"error_type", res.ErrorKind.Label(),
			"error", res.Error,
			"request_id", requestIDFrom(r.Context()),
		)
	}
	s.respondJSON(w, statusFor(res.ErrorKind), res)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, struct{ Version string }{s.version}); err != nil {
		s.logger.Error("render index", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) respondInvalid(w http.ResponseWriter, msg, original string) {
	s.respondJSON(w, http.StatusUnprocessableEntity, pipeline.Result{
		Error:         msg,
		ErrorKind:     pipeline.KindInvalidRequest,
		OriginalError: original,
	})
}

// respondJSON encodes data before writing the header so an encoding
// failure can still become a server_error response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		writeJSON(w, http.StatusInternalServerError, serverError(err.Error()))
		return
	}
	writeRaw(w, status, body)
}

// writeJSON is respondJSON without a logger, for middleware.
func writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		body = []byte(`{"error":"Internal server error occurred","error_type":"server_error","intermediate_steps":null}`)
		status = http.StatusInternalServerError
	}
	writeRaw(w, status, body)
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"doran/internal/domain"
	"doran/internal/engine"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply of the chat endpoint.
type ChatResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type chatHandler struct {
	engine *engine.Engine
	logger zerolog.Logger
}

func parseRole(s string) domain.Role {
	if strings.EqualFold(strings.TrimSpace(s), string(domain.RoleGuest)) {
		return domain.RoleGuest
	}
	return domain.RoleUser
}

// Chat handles POST /api/v1/chat. An empty message is not an error: the
// engine answers it with a prompt.
func (h *chatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	reply := h.engine.Respond(r.Context(), engine.Request{
		Message:   req.Message,
		Role:      parseRole(req.Role),
		SessionID: req.SessionID,
	})
	writeJSON(w, h.logger, http.StatusOK, ChatResponse{
		Response:  reply.Response,
		Timestamp: reply.Timestamp.Format(engine.TimestampLayout),
	})
}

// History handles GET /api/v1/sessions/{sessionID}/history.
func (h *chatHandler) History(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hist, err := h.engine.History(r.Context(), chi.URLParam(r, "sessionID"), n)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "history unavailable", err)
		return
	}
	if hist == nil {
		hist = []domain.Exchange{}
	}
	writeJSON(w, h.logger, http.StatusOK, hist)
}

type adminHandler struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// RuleRequest is the body of rule create and edit calls. On edit, absent
// fields are left unchanged. Question and Answer are accepted in place of
// Questions and Response.
type RuleRequest struct {
	Bucket      domain.Bucket       `json:"bucket,omitempty"`
	Category    *string             `json:"category,omitempty"`
	Questions   *domain.QuestionSet `json:"questions,omitempty"`
	Question    *domain.QuestionSet `json:"question,omitempty"`
	Response    *string             `json:"response,omitempty"`
	Answer      *string             `json:"answer,omitempty"`
	Description *string             `json:"description,omitempty"`
	UserType    *domain.UserType    `json:"user_type,omitempty"`
	Keywords    []string            `json:"keywords,omitempty"`
	MediaURLs   []string            `json:"urls,omitempty"`
}

func (req *RuleRequest) fold() {
	if req.Questions == nil || len(*req.Questions) == 0 {
		if req.Question != nil {
			req.Questions = req.Question
		}
	}
	if req.Response == nil {
		req.Response = req.Answer
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (h *adminHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	buckets := domain.Buckets
	if b := domain.Bucket(r.URL.Query().Get("bucket")); b != "" {
		buckets = []domain.Bucket{b}
	}
	out := make(map[domain.Bucket][]domain.Rule, len(buckets))
	for _, b := range buckets {
		rules, err := h.engine.ListRules(r.Context(), b)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		if rules == nil {
			rules = []domain.Rule{}
		}
		out[b] = rules
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

func (h *adminHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.fold()
	if req.Bucket != "" && !req.Bucket.Valid() {
		writeDomainError(w, h.logger, domain.ErrUnknownBucket)
		return
	}
	ids, err := h.engine.AddRule(r.Context(), engine.NewRule{
		Bucket:      req.Bucket,
		Category:    deref(req.Category),
		Questions:   deref(req.Questions),
		Response:    deref(req.Response),
		Description: deref(req.Description),
		UserType:    deref(req.UserType),
		Keywords:    req.Keywords,
		MediaURLs:   req.MediaURLs,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, map[string]any{"ids": ids})
}

func (h *adminHandler) EditRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.fold()
	bucket := req.Bucket
	if q := r.URL.Query().Get("bucket"); q != "" {
		bucket = domain.Bucket(q)
	}
	patch := engine.RulePatch{
		Category:    req.Category,
		Response:    req.Response,
		Description: req.Description,
		UserType:    req.UserType,
		Keywords:    req.Keywords,
		MediaURLs:   req.MediaURLs,
	}
	if req.Questions != nil {
		patch.Questions = *req.Questions
	}
	rule, err := h.engine.EditRule(r.Context(), bucket, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, rule)
}

func (h *adminHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.DeleteRule(r.Context(), domain.Bucket(r.URL.Query().Get("bucket")), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]int{"deleted": n})
}

// EmailRequest is the body of email create and update calls.
type EmailRequest struct {
	School string `json:"school"`
	Email  string `json:"email"`
}

func (h *adminHandler) ListEmails(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Emails().ListEmails(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.EmailEntry{}
	}
	writeJSON(w, h.logger, http.StatusOK, entries)
}

func (h *adminHandler) AddEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	id, err := h.engine.Emails().AddEmail(r.Context(), req.School, req.Email)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, domain.EmailEntry{ID: id, School: req.School, Email: req.Email})
}

func (h *adminHandler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid email id", err)
		return
	}
	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	ok, err := h.engine.Emails().UpdateEmail(r.Context(), id, req.School, req.Email)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !ok {
		writeDomainError(w, h.logger, domain.ErrNotFound)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, domain.EmailEntry{ID: id, School: req.School, Email: req.Email})
}

func (h *adminHandler) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid email id", err)
		return
	}
	ok, err := h.engine.Emails().DeleteEmail(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	if !ok {
		writeDomainError(w, h.logger, domain.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rebuild handles POST /api/v1/index/rebuild.
func (h *adminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Rebuild(r.Context())
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"version": snap.Version,
		"rules":   len(snap.Rules()),
		"entries": snap.Len(),
		"usable":  snap.Usable(),
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, status int, msg string, err error) {
	body := errorBody{Error: msg}
	if err != nil {
		body.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(msg)
	}
	writeJSON(w, logger, status, body)
}

func writeDomainError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, "not found", err)
	case errors.Is(err, domain.ErrInvalidRule), errors.Is(err, domain.ErrUnknownBucket):
		writeError(w, logger, http.StatusBadRequest, "invalid request", err)
	default:
		writeError(w, logger, http.StatusInternalServerError, "internal error", err)
	}
}

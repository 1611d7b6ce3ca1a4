// Package handler exposes the exam engine as a JSON API. Any front end
// (web, CLI, desktop) drives the session through these endpoints; no view
// rendering happens here.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/digitizer"
	appi18n "github.com/cbtsim/cbtsim/internal/i18n"
	"github.com/cbtsim/cbtsim/internal/model"
	"github.com/cbtsim/cbtsim/internal/scoring"
	"github.com/cbtsim/cbtsim/internal/session"
	"github.com/cbtsim/cbtsim/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	sessions  *session.Manager
	digitizer *digitizer.Client // nil when no digitizer endpoint is configured

	mu     sync.RWMutex
	active *content.Index
}

// New creates a new Handler serving the given exam.
func New(s *store.Store, mgr *session.Manager, dig *digitizer.Client, active *content.Index) *Handler {
	return &Handler{store: s, sessions: mgr, digitizer: dig, active: active}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/exam", h.handleExamInfo)
	r.Post("/sessions", h.handleStartSession)
	r.Get("/sessions/{sessionID}", h.handleSessionState)
	r.Post("/sessions/{sessionID}/select", h.handleSelectOption)
	r.Post("/sessions/{sessionID}/numeric", h.handleNumericAnswer)
	r.Post("/sessions/{sessionID}/save-next", h.action((*session.Session).SaveAndNext))
	r.Post("/sessions/{sessionID}/save-mark", h.action((*session.Session).SaveAndMark))
	r.Post("/sessions/{sessionID}/mark", h.action((*session.Session).MarkForReview))
	r.Post("/sessions/{sessionID}/clear", h.action((*session.Session).ClearResponse))
	r.Post("/sessions/{sessionID}/navigate", h.handleNavigate)
	r.Post("/sessions/{sessionID}/subject", h.handleSwitchSubject)
	r.Post("/sessions/{sessionID}/submit", h.handleSubmit)
	r.Get("/sessions/{sessionID}/report", h.handleSessionReport)
	r.Get("/results", h.handleResultsList)
	r.Get("/results/{sessionID}/report", h.handleStoredReport)
	r.Get("/admin/exams", h.handleListExams)
	r.Post("/admin/exams", h.handleUploadExam)
	r.Post("/admin/papers", h.handleDigitizePaper)
}

func (h *Handler) activeIndex() *content.Index {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.active
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// optionView is a candidate-facing option: the correctness flag is never
// exposed while an exam is running.
type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// questionView is a candidate-facing question.
type questionView struct {
	ID          string             `json:"id"`
	Text        string             `json:"text"`
	Type        model.QuestionType `json:"type"`
	Options     []optionView       `json:"options,omitempty"`
	SectionName string             `json:"sectionName"`
	SubjectID   string             `json:"subjectId"`
	OrderIndex  int                `json:"orderIndex"`
	Label       string             `json:"label"` // localized "Question No. N"
}

func (h *Handler) questionView(r *http.Request, idx *content.Index, q model.Question) questionView {
	qv := questionView{
		ID:          q.ID,
		Text:        q.Text,
		Type:        q.Type,
		SectionName: idx.SectionName(q.ID),
		SubjectID:   q.SubjectID,
		OrderIndex:  q.OrderIndex,
		Label:       appi18n.Td(r.Context(), "QuestionNo", map[string]any{"N": q.OrderIndex + 1}),
	}
	for _, opt := range q.Options {
		qv.Options = append(qv.Options, optionView{ID: opt.ID, Text: opt.Text})
	}
	return qv
}

// paletteEntry is one cell of the question palette.
type paletteEntry struct {
	QuestionID  string               `json:"questionId"`
	OrderIndex  int                  `json:"orderIndex"`
	Status      model.QuestionStatus `json:"status"`
	StatusLabel string               `json:"statusLabel"`
	Current     bool                 `json:"current"`
}

func statusLabel(r *http.Request, st model.QuestionStatus) string {
	ctx := r.Context()
	switch st {
	case model.StatusNotAnswered:
		return appi18n.T(ctx, "StatusNotAnswered")
	case model.StatusAnswered:
		return appi18n.T(ctx, "StatusAnswered")
	case model.StatusMarkedForReview:
		return appi18n.T(ctx, "StatusMarkedForReview")
	case model.StatusAnsweredMarkedReview:
		return appi18n.T(ctx, "StatusAnsweredMarkedForReview")
	default:
		return appi18n.T(ctx, "StatusNotVisited")
	}
}

func (h *Handler) handleExamInfo(w http.ResponseWriter, r *http.Request) {
	idx := h.activeIndex()
	exam := idx.Exam()
	writeJSON(w, http.StatusOK, map[string]any{
		"title":           appi18n.T(r.Context(), "AppTitle"),
		"examId":          exam.ID,
		"examName":        exam.Name,
		"durationMinutes": exam.DurationMinutes,
		"totalQuestions":  exam.QuestionCount(),
		"questionsLoaded": appi18n.Tp(r.Context(), "QuestionsLoaded", exam.QuestionCount()),
		"markingScheme":   appi18n.T(r.Context(), "MarkingScheme"),
	})
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CandidateName string `json:"candidateName"`
	}
	if r.Body != nil {
		// An empty body just means an anonymous candidate.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	idx := h.activeIndex()
	sess := h.sessions.Create(idx, session.Config{
		CandidateName: req.CandidateName,
		Sink:          h.store,
	})
	slog.Info("session started", "session_id", sess.ID(), "exam_id", idx.Exam().ID, "candidate", req.CandidateName)
	h.writeSessionState(w, r, sess, http.StatusCreated)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return nil, false
	}
	return sess, true
}

func (h *Handler) writeSessionState(w http.ResponseWriter, r *http.Request, sess *session.Session, status int) {
	idx := h.activeIndexFor(sess)
	snap := sess.Snapshot()
	q, resp := sess.CurrentQuestion()

	subjects := make([]map[string]any, 0, len(idx.Exam().Subjects))
	for _, sub := range idx.Exam().Subjects {
		var palette []paletteEntry
		for _, sq := range idx.SubjectQuestions(sub.ID) {
			pr := snap.Responses[sq.ID]
			palette = append(palette, paletteEntry{
				QuestionID:  sq.ID,
				OrderIndex:  sq.OrderIndex,
				Status:      pr.Status,
				StatusLabel: statusLabel(r, pr.Status),
				Current:     sq.ID == snap.CurrentQuestion,
			})
		}
		subjects = append(subjects, map[string]any{
			"id":      sub.ID,
			"name":    sub.Name,
			"active":  sub.ID == snap.CurrentSubjectID,
			"palette": palette,
		})
	}

	writeJSON(w, status, map[string]any{
		"sessionId":       snap.SessionID,
		"status":          snap.Status,
		"timeLeftSeconds": snap.TimeLeftSeconds,
		"timeLeftLabel":   appi18n.T(r.Context(), "TimeLeft"),
		"currentQuestion": h.questionView(r, idx, q),
		"response": map[string]any{
			"status":           resp.Status,
			"selectedOptionId": resp.SelectedOptionID,
			"numericAnswer":    resp.NumericAnswer,
		},
		"subjects": subjects,
	})
}

// activeIndexFor returns the index a session runs on. Sessions keep their
// exam even if the admin replaces the active one mid-flight.
func (h *Handler) activeIndexFor(sess *session.Session) *content.Index {
	idx := h.activeIndex()
	if idx.Exam().ID == sess.Exam().ID {
		return idx
	}
	// Rebuild from the session's own exam; it was validated at creation.
	own, err := content.NewIndex(sess.Exam())
	if err != nil {
		return idx
	}
	return own
}

func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	h.writeSessionState(w, r, sess, http.StatusOK)
}

func (h *Handler) handleSelectOption(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"questionId"`
		OptionID   string `json:"optionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.SelectOption(req.QuestionID, req.OptionID); err != nil {
		writeError(w, actionStatus(err), err)
		return
	}
	h.writeSessionState(w, r, sess, http.StatusOK)
}

func (h *Handler) handleNumericAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"questionId"`
		Value      string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.SetNumericAnswer(req.QuestionID, req.Value); err != nil {
		writeError(w, actionStatus(err), err)
		return
	}
	h.writeSessionState(w, r, sess, http.StatusOK)
}

// action adapts a no-argument session operation into a handler.
func (h *Handler) action(op func(*session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := h.getSession(w, r)
		if !ok {
			return
		}
		if err := op(sess); err != nil {
			writeError(w, actionStatus(err), err)
			return
		}
		h.writeSessionState(w, r, sess, http.StatusOK)
	}
}

func actionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSubmitted):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownQuestion),
		errors.Is(err, session.ErrUnknownSubject),
		errors.Is(err, session.ErrUnknownOption),
		errors.Is(err, session.ErrWrongQuestionType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"questionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.NavigateTo(req.QuestionID); err != nil {
		writeError(w, actionStatus(err), err)
		return
	}
	h.writeSessionState(w, r, sess, http.StatusOK)
}

func (h *Handler) handleSwitchSubject(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	var req struct {
		SubjectID string `json:"subjectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.SwitchSubject(req.SubjectID); err != nil {
		writeError(w, actionStatus(err), err)
		return
	}
	h.writeSessionState(w, r, sess, http.StatusOK)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	report := sess.Submit()
	_, saveStatus := sess.Report()

	msg := ""
	switch saveStatus {
	case model.SaveSuccess:
		msg = appi18n.T(r.Context(), "ResultSaved")
	case model.SaveError:
		msg = appi18n.T(r.Context(), "ResultSaveFailed")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    appi18n.T(r.Context(), "ExamSubmitted"),
		"report":     report,
		"saveStatus": saveStatus,
		"saveNote":   msg,
	})
}

func (h *Handler) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.getSession(w, r)
	if !ok {
		return
	}
	report, saveStatus := sess.Report()
	if report == nil {
		writeError(w, http.StatusConflict, errors.New("session not submitted yet"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":     report,
		"saveStatus": saveStatus,
	})
}

func (h *Handler) handleResultsList(w http.ResponseWriter, r *http.Request) {
	results, err := h.store.ListResults()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleStoredReport re-scores a finished attempt from its stored exam
// snapshot and responses. The stored report and the recomputed one must
// agree question for question.
func (h *Handler) handleStoredReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	res, err := h.store.GetResultBySession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, errors.New("result not found"))
		return
	}
	exam, err := h.store.GetResultExam(sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	idx, err := content.NewIndex(exam)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	report := scoring.New().Score(idx, res.Responses)
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"report": report,
	})
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/model"
)

// handleListExams returns every stored exam with the active one flagged.
func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	activeID := h.activeIndex().Exam().ID
	out := make([]map[string]any, 0, len(exams))
	for _, e := range exams {
		out = append(out, map[string]any{
			"id":              e.ID,
			"name":            e.Name,
			"durationMinutes": e.DurationMinutes,
			"totalQuestions":  e.QuestionCount(),
			"active":          e.ID == activeID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exams": out})
}

// handleUploadExam replaces the active exam wholesale. Running sessions
// keep the exam they started with; only sessions created afterwards see
// the new one.
func (h *Handler) handleUploadExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if err := json.NewDecoder(r.Body).Decode(&exam); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := content.NewIndex(exam)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := h.store.PutExam(exam); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.mu.Lock()
	h.active = idx
	h.mu.Unlock()

	slog.Info("exam replaced", "exam_id", exam.ID, "questions", exam.QuestionCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"examId":         exam.ID,
		"totalQuestions": exam.QuestionCount(),
	})
}

// handleDigitizePaper turns raw question-paper text into a structured exam
// via the LLM digitizer, stores it and makes it active.
func (h *Handler) handleDigitizePaper(w http.ResponseWriter, r *http.Request) {
	if h.digitizer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("digitizer not configured"))
		return
	}
	var req struct {
		ExamID          string `json:"examId"`
		ExamName        string `json:"examName"`
		DurationMinutes int    `json:"durationMinutes"`
		PaperText       string `json:"paperText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.PaperText == "" {
		writeError(w, http.StatusBadRequest, errors.New("paperText is required"))
		return
	}

	exam, err := h.digitizer.DigitizePaper(r.Context(), req.ExamID, req.ExamName, req.DurationMinutes, req.PaperText)
	if err != nil {
		slog.Error("digitize paper", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	idx, err := content.NewIndex(exam)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := h.store.PutExam(exam); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.mu.Lock()
	h.active = idx
	h.mu.Unlock()

	slog.Info("paper digitized", "exam_id", exam.ID, "questions", exam.QuestionCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"examId":         exam.ID,
		"totalQuestions": exam.QuestionCount(),
	})
}

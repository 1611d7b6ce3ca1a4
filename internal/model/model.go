package model

import "time"

// QuestionType selects the answer-capture UI and the scoring rule for a
// section's questions.
type QuestionType string

const (
	// TypeMCQ is a single-choice question with four options.
	TypeMCQ QuestionType = "MCQ"
	// TypeNumeric is a numeric-value question answered as free text.
	TypeNumeric QuestionType = "NUMERIC"
)

// QuestionStatus is the response state of one question within a session.
type QuestionStatus string

const (
	StatusNotVisited           QuestionStatus = "NOT_VISITED"
	StatusNotAnswered          QuestionStatus = "NOT_ANSWERED"
	StatusAnswered             QuestionStatus = "ANSWERED"
	StatusMarkedForReview      QuestionStatus = "MARKED_FOR_REVIEW"
	StatusAnsweredMarkedReview QuestionStatus = "ANSWERED_MARKED_FOR_REVIEW"
)

// Attempted reports whether a status counts toward scoring. Only answers
// explicitly saved (plain or save-and-mark) are scored; a typed value under
// MARKED_FOR_REVIEW is not.
func (s QuestionStatus) Attempted() bool {
	return s == StatusAnswered || s == StatusAnsweredMarkedReview
}

// SessionStatus represents the lifecycle state of an exam session.
type SessionStatus string

const (
	SessionOngoing   SessionStatus = "ONGOING"
	SessionSubmitted SessionStatus = "SUBMITTED"
)

// Option is one answer choice of an MCQ question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"` // may embed LaTeX math
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

// Question is a single exam question. OrderIndex is zero-based and unique
// across the flattened exam; navigation depends on it being contiguous.
type Question struct {
	ID           string       `json:"id"`
	Text         string       `json:"text"`
	Type         QuestionType `json:"type"`
	Options      []Option     `json:"options,omitempty"`      // MCQ only
	CorrectValue float64      `json:"correctValue,omitempty"` // NUMERIC only
	SectionID    string       `json:"sectionId"`
	SubjectID    string       `json:"subjectId"`
	OrderIndex   int          `json:"orderIndex"`
}

// CorrectOption returns the option flagged correct, or nil. Content
// validation guarantees at most one per question.
func (q Question) CorrectOption() *Option {
	for i := range q.Options {
		if q.Options[i].IsCorrect {
			return &q.Options[i]
		}
	}
	return nil
}

// Section groups questions of a single type within a subject.
type Section struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"` // "Section A", "Section B"
	Type      QuestionType `json:"type"`
	SubjectID string       `json:"subjectId"`
	Questions []Question   `json:"questions"`
}

// Subject is one exam subject (Physics, Chemistry, Mathematics, ...).
type Subject struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Sections []Section `json:"sections"`
}

// Exam is the root content aggregate. It is immutable once a session has
// started on it.
type Exam struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"durationMinutes"`
	Subjects        []Subject `json:"subjects"`
}

// QuestionCount returns the total number of questions across all subjects.
func (e Exam) QuestionCount() int {
	n := 0
	for _, sub := range e.Subjects {
		for _, sec := range sub.Sections {
			n += len(sec.Questions)
		}
	}
	return n
}

// UserResponse is the mutable per-question progress record. One exists for
// every question from session start; none is ever deleted during a session.
type UserResponse struct {
	QuestionID       string         `json:"questionId"`
	Status           QuestionStatus `json:"status"`
	SelectedOptionID string         `json:"selectedOptionId,omitempty"` // MCQ
	NumericAnswer    string         `json:"numericAnswer,omitempty"`    // NUMERIC, raw as typed
	Visited          bool           `json:"visited"`
}

// Snapshot is the immutable record of a session handed across the session
// boundary on submit (persistence, results display).
type Snapshot struct {
	SessionID        string                  `json:"sessionId"`
	ExamID           string                  `json:"examId"`
	CandidateName    string                  `json:"candidateName,omitempty"`
	CurrentSubjectID string                  `json:"currentSubjectId"`
	CurrentQuestion  string                  `json:"currentQuestionId"`
	Responses        map[string]UserResponse `json:"responses"`
	TimeLeftSeconds  int                     `json:"timeLeftSeconds"`
	Status           SessionStatus           `json:"status"`
	SubmittedAt      *time.Time              `json:"submittedAt,omitempty"`
}

// SaveStatus reports the outcome of the external result-sink write. The
// scorecard is always computed locally regardless of this value.
type SaveStatus string

const (
	SaveIdle    SaveStatus = "idle"
	SaveSuccess SaveStatus = "success"
	SaveError   SaveStatus = "error"
)

// PaperImport is the wire format produced by the paper digitizer: one entry
// per extracted question, before assembly into an Exam.
type PaperImport struct {
	Subject      string   `json:"subject"`
	SectionType  string   `json:"sectionType"` // "A" for MCQ, "B" for numeric
	QuestionText string   `json:"questionText"`
	Options      []string `json:"options,omitempty"`
	CorrectIndex int      `json:"correctIndex"`           // -1 when unknown
	CorrectValue float64  `json:"correctValue,omitempty"` // numeric questions
}

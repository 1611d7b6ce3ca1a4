// Package scoring turns a content index and a final response ledger into a
// score report. Scoring is a pure function of its inputs: re-running it on
// a stored ledger and exam snapshot reproduces the original report exactly.
package scoring

import (
	"math"
	"strconv"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/model"
)

// NTA marking scheme: +4 correct, -1 incorrect, 0 otherwise.
const (
	marksCorrect   = 4
	marksIncorrect = -1
)

// NumericPolicy decides whether a parsed numeric answer matches the correct
// value. The default is exact float equality; Epsilon gives a tolerant
// alternative since exact equality is fragile for decimal input.
type NumericPolicy func(answer, correct float64) bool

// ExactMatch accepts only exact float equality.
func ExactMatch(answer, correct float64) bool { return answer == correct }

// Epsilon accepts answers within tol of the correct value.
func Epsilon(tol float64) NumericPolicy {
	return func(answer, correct float64) bool {
		return math.Abs(answer-correct) <= tol
	}
}

// QuestionResult is the per-question entry of a report, used by the
// post-exam review screen.
type QuestionResult struct {
	QuestionID  string               `json:"questionId"`
	OrderIndex  int                  `json:"orderIndex"`
	SubjectName string               `json:"subjectName"`
	Status      model.QuestionStatus `json:"status"`
	UserValue   string               `json:"userValue"` // selected option ID or raw numeric text
	Attempted   bool                 `json:"attempted"`
	Correct     bool                 `json:"correct"`
}

// Report is the scoring summary for one submitted session.
type Report struct {
	Score          int              `json:"score"` // may be negative
	MaxScore       int              `json:"maxScore"`
	CorrectCount   int              `json:"correctCount"`
	IncorrectCount int              `json:"incorrectCount"`
	AttemptedCount int              `json:"attemptedCount"`
	MarkedCount    int              `json:"markedForReviewCount"` // marked but never saved; scores 0
	TotalQuestions int              `json:"totalQuestions"`
	Breakdown      []QuestionResult `json:"breakdown"`
}

// Engine applies the marking scheme. The zero value is not usable; call New.
type Engine struct {
	numeric NumericPolicy
}

// New returns an engine using exact numeric equality.
func New() *Engine { return &Engine{numeric: ExactMatch} }

// NewWithPolicy returns an engine with a custom numeric comparison policy.
func NewWithPolicy(p NumericPolicy) *Engine { return &Engine{numeric: p} }

// Score iterates every question of the exam once, in flattened order, and
// accumulates the report. A question counts as attempted strictly by its
// status; a typed or selected value that was never saved is reported in the
// breakdown but contributes nothing to the score.
func (e *Engine) Score(idx *content.Index, responses map[string]model.UserResponse) Report {
	var r Report
	subjectNames := make(map[string]string)
	for _, sub := range idx.Exam().Subjects {
		subjectNames[sub.ID] = sub.Name
	}

	for _, q := range idx.Flattened() {
		r.TotalQuestions++
		resp := responses[q.ID]

		userVal := resp.SelectedOptionID
		if q.Type == model.TypeNumeric {
			userVal = resp.NumericAnswer
		}

		qr := QuestionResult{
			QuestionID:  q.ID,
			OrderIndex:  q.OrderIndex,
			SubjectName: subjectNames[q.SubjectID],
			Status:      resp.Status,
			UserValue:   userVal,
			Attempted:   resp.Status.Attempted(),
		}
		if resp.Status == model.StatusMarkedForReview {
			r.MarkedCount++
		}

		if qr.Attempted {
			r.AttemptedCount++
			qr.Correct = e.isCorrect(q, userVal)
			if qr.Correct {
				r.CorrectCount++
				r.Score += marksCorrect
			} else {
				r.IncorrectCount++
				r.Score += marksIncorrect
			}
		}
		r.Breakdown = append(r.Breakdown, qr)
	}

	r.MaxScore = r.TotalQuestions * marksCorrect
	return r
}

func (e *Engine) isCorrect(q model.Question, userVal string) bool {
	switch q.Type {
	case model.TypeMCQ:
		// An MCQ with no option flagged correct is unscorable; an attempt on
		// it still carries the attempt penalty.
		opt := q.CorrectOption()
		return opt != nil && opt.ID == userVal
	case model.TypeNumeric:
		v, err := strconv.ParseFloat(userVal, 64)
		if err != nil {
			// Non-parseable text never spuriously equals the correct value.
			return false
		}
		return e.numeric(v, q.CorrectValue)
	}
	return false
}

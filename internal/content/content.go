// Package content holds the read-only exam content model: structural
// validation at load time and a one-time flattened index used by navigation
// and scoring. Nothing here mutates an exam after construction.
package content

import (
	"fmt"

	"github.com/cbtsim/cbtsim/internal/model"
)

// Index is a validated exam with precomputed lookups. Question lookup by ID
// is O(1); the flattened slice is ordered by ascending OrderIndex.
type Index struct {
	exam      model.Exam
	flat      []model.Question
	byID      map[string]model.Question
	pos       map[string]int // question ID -> index into flat
	sections  map[string]model.Section
	subjects  map[string]model.Subject
	bySubject map[string][]model.Question
}

// NewIndex validates the exam's structural invariants and builds the index.
// A malformed exam is fatal for the exam-taking flow: no session may start
// on it.
func NewIndex(exam model.Exam) (*Index, error) {
	if err := Validate(exam); err != nil {
		return nil, err
	}

	idx := &Index{
		exam:      exam,
		byID:      make(map[string]model.Question),
		pos:       make(map[string]int),
		sections:  make(map[string]model.Section),
		subjects:  make(map[string]model.Subject),
		bySubject: make(map[string][]model.Question),
	}
	for _, sub := range exam.Subjects {
		idx.subjects[sub.ID] = sub
		for _, sec := range sub.Sections {
			idx.sections[sec.ID] = sec
			for _, q := range sec.Questions {
				idx.pos[q.ID] = len(idx.flat)
				idx.flat = append(idx.flat, q)
				idx.byID[q.ID] = q
				idx.bySubject[sub.ID] = append(idx.bySubject[sub.ID], q)
			}
		}
	}
	return idx, nil
}

// Validate checks the invariants the content-supply contract promises:
// a reachable first question, matching owner IDs, section/question type
// agreement, contiguous zero-based order indexes across the flattened
// traversal, and at most one correct option per MCQ question.
func Validate(exam model.Exam) error {
	if exam.ID == "" {
		return fmt.Errorf("exam has no ID")
	}
	if len(exam.Subjects) == 0 {
		return fmt.Errorf("exam %s has no subjects", exam.ID)
	}

	seen := make(map[string]bool)
	want := 0
	for _, sub := range exam.Subjects {
		if len(sub.Sections) == 0 {
			return fmt.Errorf("subject %s has no sections", sub.ID)
		}
		for _, sec := range sub.Sections {
			if sec.SubjectID != sub.ID {
				return fmt.Errorf("section %s claims subject %s, belongs to %s", sec.ID, sec.SubjectID, sub.ID)
			}
			for _, q := range sec.Questions {
				if seen[q.ID] {
					return fmt.Errorf("duplicate question ID %s", q.ID)
				}
				seen[q.ID] = true
				if q.SubjectID != sub.ID || q.SectionID != sec.ID {
					return fmt.Errorf("question %s has mismatched owner IDs", q.ID)
				}
				if q.Type != sec.Type {
					return fmt.Errorf("question %s type %s differs from section %s type %s", q.ID, q.Type, sec.ID, sec.Type)
				}
				if q.OrderIndex != want {
					return fmt.Errorf("question %s has order index %d, want %d", q.ID, q.OrderIndex, want)
				}
				want++
				if q.Type == model.TypeMCQ {
					if len(q.Options) < 2 {
						return fmt.Errorf("MCQ question %s has %d options", q.ID, len(q.Options))
					}
					correct := 0
					for _, opt := range q.Options {
						if opt.IsCorrect {
							correct++
						}
					}
					if correct > 1 {
						return fmt.Errorf("MCQ question %s has %d options marked correct", q.ID, correct)
					}
				}
			}
		}
	}
	if want == 0 {
		return fmt.Errorf("exam %s has no questions", exam.ID)
	}
	// The very first question must exist for the session to have a starting
	// point; an empty leading section breaks that even when later sections
	// have questions.
	if len(exam.Subjects[0].Sections[0].Questions) == 0 {
		return fmt.Errorf("exam %s: first section is empty", exam.ID)
	}
	return nil
}

// Exam returns the underlying exam aggregate.
func (x *Index) Exam() model.Exam { return x.exam }

// Question returns the question with the given ID.
func (x *Index) Question(id string) (model.Question, bool) {
	q, ok := x.byID[id]
	return q, ok
}

// Flattened returns all questions in ascending order-index order. Callers
// must not modify the returned slice.
func (x *Index) Flattened() []model.Question { return x.flat }

// First returns the first question in document order.
func (x *Index) First() model.Question { return x.flat[0] }

// Next returns the question after the given one in flattened order. The
// second return is false at the last question (no wraparound).
func (x *Index) Next(questionID string) (model.Question, bool) {
	i, ok := x.pos[questionID]
	if !ok || i+1 >= len(x.flat) {
		return model.Question{}, false
	}
	return x.flat[i+1], true
}

// Subject returns a subject by ID.
func (x *Index) Subject(id string) (model.Subject, bool) {
	s, ok := x.subjects[id]
	return s, ok
}

// SubjectQuestions returns a subject's questions in flattened order, as
// shown in the palette.
func (x *Index) SubjectQuestions(subjectID string) []model.Question {
	return x.bySubject[subjectID]
}

// FirstOfSubject returns the first question of a subject (first section,
// lowest order index), used when a subject tab is clicked.
func (x *Index) FirstOfSubject(subjectID string) (model.Question, bool) {
	qs := x.bySubject[subjectID]
	if len(qs) == 0 {
		return model.Question{}, false
	}
	return qs[0], true
}

// SectionName returns the display name of the section owning a question.
func (x *Index) SectionName(questionID string) string {
	q, ok := x.byID[questionID]
	if !ok {
		return ""
	}
	return x.sections[q.SectionID].Name
}

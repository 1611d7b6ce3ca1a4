// Package session implements the exam session state machine: the response
// ledger, navigation over the flattened question order, the countdown
// timer, and the single submission path that feeds the scoring engine.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/model"
	"github.com/cbtsim/cbtsim/internal/scoring"
)

var (
	// ErrSubmitted is returned by mutating actions after submission.
	ErrSubmitted = errors.New("session already submitted")
	// ErrUnknownQuestion is returned for a question ID outside the exam.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrUnknownSubject is returned for a subject ID outside the exam.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrWrongQuestionType is returned when an answer is supplied through
	// the wrong capture channel (option for numeric, text for MCQ).
	ErrWrongQuestionType = errors.New("wrong question type for this action")
	// ErrUnknownOption is returned when the selected option does not belong
	// to the question.
	ErrUnknownOption = errors.New("option does not belong to question")
)

// ResultSink is the external persistence collaborator invoked once on
// submission. Delivery is not retried; failure surfaces as a save status.
type ResultSink interface {
	SaveResult(snap model.Snapshot, report scoring.Report, exam model.Exam) error
}

// Config carries the session's injected collaborators. All fields are
// optional.
type Config struct {
	CandidateName string
	Engine        *scoring.Engine // nil means scoring.New()
	Sink          ResultSink      // nil means no persistence
	TickInterval  time.Duration   // nil value means one second; tests shorten it
}

// Session is one candidate's attempt at one exam. All methods are safe for
// concurrent use; mutating actions are serialized by a single mutex so the
// ledger never sees interleaved writes.
type Session struct {
	mu sync.Mutex

	id        string
	idx       *content.Index
	candidate string
	engine    *scoring.Engine
	sink      ResultSink

	responses      map[string]model.UserResponse
	currentSubject string
	currentQ       string
	timeLeft       int
	status         model.SessionStatus
	submittedAt    *time.Time

	timer      *Timer
	report     *scoring.Report
	saveStatus model.SaveStatus
}

// New starts a session on a validated exam index. Every question gets a
// NOT_VISITED response; the first question immediately becomes current,
// which flips it to NOT_ANSWERED with the visited flag set. The countdown
// starts right away and forces submission at zero.
func New(idx *content.Index, cfg Config) *Session {
	engine := cfg.Engine
	if engine == nil {
		engine = scoring.New()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = time.Second
	}

	s := &Session{
		id:         newSessionID(),
		idx:        idx,
		candidate:  cfg.CandidateName,
		engine:     engine,
		sink:       cfg.Sink,
		responses:  make(map[string]model.UserResponse),
		timeLeft:   idx.Exam().DurationMinutes * 60,
		status:     model.SessionOngoing,
		saveStatus: model.SaveIdle,
		timer:      NewTimer(tick),
	}
	for _, q := range idx.Flattened() {
		s.responses[q.ID] = model.UserResponse{
			QuestionID: q.ID,
			Status:     model.StatusNotVisited,
		}
	}
	first := idx.First()
	s.setCurrentLocked(first)

	s.timer.Start(s.timeLeft, s.onTick, s.onExpire)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Exam returns the exam this session runs on.
func (s *Session) Exam() model.Exam { return s.idx.Exam() }

// setCurrentLocked makes q the active question, switching the active
// subject when crossing a subject boundary. Becoming current is what fires
// the one-way NOT_VISITED -> NOT_ANSWERED transition.
func (s *Session) setCurrentLocked(q model.Question) {
	s.currentQ = q.ID
	s.currentSubject = q.SubjectID
	r := s.responses[q.ID]
	if r.Status == model.StatusNotVisited {
		r.Status = model.StatusNotAnswered
		r.Visited = true
		s.responses[q.ID] = r
	}
}

// SelectOption records an MCQ selection. Selection alone never changes the
// question's status; only an explicit save action does.
func (s *Session) SelectOption(questionID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	q, ok := s.idx.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if q.Type != model.TypeMCQ {
		return ErrWrongQuestionType
	}
	valid := false
	for _, opt := range q.Options {
		if opt.ID == optionID {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %s", ErrUnknownOption, optionID)
	}
	r := s.responses[questionID]
	r.SelectedOptionID = optionID
	s.responses[questionID] = r
	return nil
}

// SetNumericAnswer records the raw text typed for a numeric question. The
// text is kept exactly as entered; parsing happens only at scoring time.
func (s *Session) SetNumericAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	q, ok := s.idx.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if q.Type != model.TypeNumeric {
		return ErrWrongQuestionType
	}
	r := s.responses[questionID]
	r.NumericAnswer = value
	s.responses[questionID] = r
	return nil
}

// hasAnswerLocked reports whether the current question holds a non-empty
// answer value.
func (s *Session) hasAnswerLocked() bool {
	q, _ := s.idx.Question(s.currentQ)
	r := s.responses[s.currentQ]
	if q.Type == model.TypeMCQ {
		return r.SelectedOptionID != ""
	}
	return r.NumericAnswer != ""
}

// SaveAndNext saves the current question (ANSWERED if it holds an answer,
// NOT_ANSWERED otherwise) and advances to the next question.
func (s *Session) SaveAndNext() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	r := s.responses[s.currentQ]
	if s.hasAnswerLocked() {
		r.Status = model.StatusAnswered
	} else {
		r.Status = model.StatusNotAnswered
	}
	s.responses[s.currentQ] = r
	s.advanceLocked()
	return nil
}

// SaveAndMark saves the current question and marks it for review
// (ANSWERED_MARKED_FOR_REVIEW when it holds an answer, MARKED_FOR_REVIEW
// otherwise), then advances.
func (s *Session) SaveAndMark() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	r := s.responses[s.currentQ]
	if s.hasAnswerLocked() {
		r.Status = model.StatusAnsweredMarkedReview
	} else {
		r.Status = model.StatusMarkedForReview
	}
	s.responses[s.currentQ] = r
	s.advanceLocked()
	return nil
}

// MarkForReview marks the current question MARKED_FOR_REVIEW unconditionally
// and advances. Any answer value entered but not saved stays on the record
// yet is excluded from scoring; only SaveAndMark preserves an answer. This
// matches the NTA interface behavior.
func (s *Session) MarkForReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	r := s.responses[s.currentQ]
	r.Status = model.StatusMarkedForReview
	s.responses[s.currentQ] = r
	s.advanceLocked()
	return nil
}

// ClearResponse erases the current question's answer value and forces its
// status to NOT_ANSWERED, whatever it was before.
func (s *Session) ClearResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	r := s.responses[s.currentQ]
	r.SelectedOptionID = ""
	r.NumericAnswer = ""
	r.Status = model.StatusNotAnswered
	s.responses[s.currentQ] = r
	return nil
}

// advanceLocked moves to the next question in flattened order; a no-op at
// the last question.
func (s *Session) advanceLocked() {
	if next, ok := s.idx.Next(s.currentQ); ok {
		s.setCurrentLocked(next)
	}
}

// NavigateTo jumps directly to a question, as from a palette click.
func (s *Session) NavigateTo(questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	q, ok := s.idx.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	s.setCurrentLocked(q)
	return nil
}

// SwitchSubject jumps to the first question of the given subject, as from a
// subject-tab click.
func (s *Session) SwitchSubject(subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.SessionOngoing {
		return ErrSubmitted
	}
	first, ok := s.idx.FirstOfSubject(subjectID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, subjectID)
	}
	s.setCurrentLocked(first)
	return nil
}

// Submit finalizes the session: the ledger is frozen, the timer cancelled,
// the report computed, and the snapshot handed to the result sink. Manual
// submit and timer expiry both funnel here; a second call is a no-op that
// returns the original report, so the scoring engine runs exactly once.
func (s *Session) Submit() scoring.Report {
	s.mu.Lock()
	if s.status == model.SessionSubmitted {
		report := *s.report
		s.mu.Unlock()
		return report
	}
	s.status = model.SessionSubmitted
	now := time.Now().UTC()
	s.submittedAt = &now
	report := s.engine.Score(s.idx, s.responses)
	s.report = &report
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.timer.Stop()

	if s.sink != nil {
		if err := s.sink.SaveResult(snap, report, s.idx.Exam()); err != nil {
			slog.Error("result sink write failed", "session_id", s.id, "error", err)
			s.setSaveStatus(model.SaveError)
		} else {
			s.setSaveStatus(model.SaveSuccess)
		}
	}
	return report
}

func (s *Session) setSaveStatus(st model.SaveStatus) {
	s.mu.Lock()
	s.saveStatus = st
	s.mu.Unlock()
}

// Close cancels the countdown without submitting. Used on teardown so a
// stale tick can never fire a duplicate submit.
func (s *Session) Close() { s.timer.Stop() }

// onTick records the remaining time while the session is ongoing.
func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	if s.status == model.SessionOngoing {
		s.timeLeft = remaining
	}
	s.mu.Unlock()
}

// onExpire forces the shared submission path; Submit's guard makes a racing
// manual submit harmless.
func (s *Session) onExpire() {
	s.Submit()
}

// Status returns the session lifecycle state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TimeLeft returns the remaining seconds.
func (s *Session) TimeLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLeft
}

// CurrentQuestion returns the active question and its response record.
func (s *Session) CurrentQuestion() (model.Question, model.UserResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, _ := s.idx.Question(s.currentQ)
	return q, s.responses[s.currentQ]
}

// CurrentSubjectID returns the active subject.
func (s *Session) CurrentSubjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSubject
}

// Response returns the ledger record for one question.
func (s *Session) Response(questionID string) (model.UserResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[questionID]
	return r, ok
}

// Report returns the score report and save status after submission. The
// report pointer is nil while the session is ongoing.
func (s *Session) Report() (*scoring.Report, model.SaveStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return nil, s.saveStatus
	}
	report := *s.report
	return &report, s.saveStatus
}

// Snapshot returns a copy of the full session state. After submission the
// snapshot is the immutable record handed to persistence and review.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() model.Snapshot {
	responses := make(map[string]model.UserResponse, len(s.responses))
	for id, r := range s.responses {
		responses[id] = r
	}
	return model.Snapshot{
		SessionID:        s.id,
		ExamID:           s.idx.Exam().ID,
		CandidateName:    s.candidate,
		CurrentSubjectID: s.currentSubject,
		CurrentQuestion:  s.currentQ,
		Responses:        responses,
		TimeLeftSeconds:  s.timeLeft,
		Status:           s.status,
		SubmittedAt:      s.submittedAt,
	}
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process is in bad shape anyway.
		panic(fmt.Sprintf("session id: %v", err))
	}
	return hex.EncodeToString(b)
}

package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/model"
	"github.com/cbtsim/cbtsim/internal/scoring"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testExam(t *testing.T) model.Exam {
	t.Helper()
	return model.Exam{
		ID: "exam-1", Name: "Mock Test 1", DurationMinutes: 180,
		Subjects: []model.Subject{{
			ID: "sub-physics", Name: "Physics",
			Sections: []model.Section{{
				ID: "sec-a", Name: "Section A", Type: model.TypeMCQ, SubjectID: "sub-physics",
				Questions: []model.Question{
					{
						ID: "q1", Text: "Q1", Type: model.TypeMCQ,
						SectionID: "sec-a", SubjectID: "sub-physics", OrderIndex: 0,
						Options: []model.Option{
							{ID: "q1-a", Text: "right", IsCorrect: true},
							{ID: "q1-b", Text: "wrong"},
						},
					},
					{
						ID: "q2", Text: "Q2", Type: model.TypeMCQ,
						SectionID: "sec-a", SubjectID: "sub-physics", OrderIndex: 1,
						Options: []model.Option{
							{ID: "q2-a", Text: "right", IsCorrect: true},
							{ID: "q2-b", Text: "wrong"},
						},
					},
				},
			}},
		}},
	}
}

func TestExamRegistry(t *testing.T) {
	s := newTestStore(t)

	count, err := s.ExamCount()
	if err != nil {
		t.Fatalf("ExamCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 exams, got %d", count)
	}

	exam := testExam(t)
	if err := s.PutExam(exam); err != nil {
		t.Fatalf("PutExam: %v", err)
	}

	got, err := s.GetExam("exam-1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if got.Name != "Mock Test 1" || got.QuestionCount() != 2 {
		t.Errorf("round-tripped exam = %q with %d questions", got.Name, got.QuestionCount())
	}
	if got.Subjects[0].Sections[0].Questions[0].Options[0].IsCorrect != true {
		t.Error("answer key lost in storage")
	}

	// Not found.
	if _, err := s.GetExam("nope"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	// Upsert replaces content.
	exam.Name = "Mock Test 1 (revised)"
	exam.DurationMinutes = 120
	if err := s.PutExam(exam); err != nil {
		t.Fatalf("PutExam upsert: %v", err)
	}
	got, err = s.GetExam("exam-1")
	if err != nil {
		t.Fatalf("GetExam after upsert: %v", err)
	}
	if got.Name != "Mock Test 1 (revised)" || got.DurationMinutes != 120 {
		t.Errorf("upsert did not replace: %q, %d min", got.Name, got.DurationMinutes)
	}

	count, err = s.ExamCount()
	if err != nil {
		t.Fatalf("ExamCount: %v", err)
	}
	if count != 1 {
		t.Errorf("upsert created a duplicate: count %d", count)
	}

	list, err := s.ListExams()
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 exam listed, got %d", len(list))
	}
}

// saveTestResult scores a simple ledger against the test exam and stores it.
func saveTestResult(t *testing.T, s *Store, sessionID, candidate string) scoring.Report {
	t.Helper()
	exam := testExam(t)
	idx, err := content.NewIndex(exam)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	responses := map[string]model.UserResponse{
		"q1": {QuestionID: "q1", Status: model.StatusAnswered, SelectedOptionID: "q1-a", Visited: true},
		"q2": {QuestionID: "q2", Status: model.StatusAnswered, SelectedOptionID: "q2-b", Visited: true},
	}
	report := scoring.New().Score(idx, responses)

	now := time.Now().UTC()
	snap := model.Snapshot{
		SessionID:     sessionID,
		ExamID:        exam.ID,
		CandidateName: candidate,
		Responses:     responses,
		Status:        model.SessionSubmitted,
		SubmittedAt:   &now,
	}
	if err := s.SaveResult(snap, report, exam); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	return report
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	report := saveTestResult(t, s, "sess-1", "Asha")

	got, err := s.GetResultBySession("sess-1")
	if err != nil {
		t.Fatalf("GetResultBySession: %v", err)
	}
	if got.Score != report.Score || got.Score != 3 {
		t.Errorf("stored score = %d, want %d", got.Score, report.Score)
	}
	if got.CandidateName != "Asha" || got.ExamName != "Mock Test 1" {
		t.Errorf("stored identity = %q / %q", got.CandidateName, got.ExamName)
	}
	if got.CorrectCount != 1 || got.IncorrectCount != 1 || got.AttemptedCount != 2 {
		t.Errorf("stored counts = %d/%d/%d, want 1/1/2",
			got.CorrectCount, got.IncorrectCount, got.AttemptedCount)
	}
	if len(got.Responses) != 2 {
		t.Errorf("stored ledger has %d entries, want 2", len(got.Responses))
	}
	if got.Responses["q1"].SelectedOptionID != "q1-a" {
		t.Errorf("ledger entry lost: %+v", got.Responses["q1"])
	}

	byID, err := s.GetResult(got.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if byID.SessionID != "sess-1" {
		t.Errorf("GetResult returned session %q", byID.SessionID)
	}

	if _, err := s.GetResultBySession("nope"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestStoredReportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	original := saveTestResult(t, s, "sess-1", "")

	stored, err := s.GetResultReport("sess-1")
	if err != nil {
		t.Fatalf("GetResultReport: %v", err)
	}
	if stored.Score != original.Score || len(stored.Breakdown) != len(original.Breakdown) {
		t.Fatalf("stored report diverged: %+v vs %+v", stored, original)
	}

	// Re-scoring the stored ledger against the stored exam snapshot must
	// reproduce the report exactly.
	exam, err := s.GetResultExam("sess-1")
	if err != nil {
		t.Fatalf("GetResultExam: %v", err)
	}
	idx, err := content.NewIndex(exam)
	if err != nil {
		t.Fatalf("NewIndex on snapshot: %v", err)
	}
	res, err := s.GetResultBySession("sess-1")
	if err != nil {
		t.Fatalf("GetResultBySession: %v", err)
	}
	rescored := scoring.New().Score(idx, res.Responses)

	if rescored.Score != original.Score ||
		rescored.CorrectCount != original.CorrectCount ||
		rescored.IncorrectCount != original.IncorrectCount {
		t.Errorf("re-score diverged: %+v vs %+v", rescored, original)
	}
	for i := range original.Breakdown {
		if rescored.Breakdown[i] != original.Breakdown[i] {
			t.Errorf("breakdown[%d] diverged: %+v vs %+v", i, rescored.Breakdown[i], original.Breakdown[i])
		}
	}
}

func TestListResults(t *testing.T) {
	s := newTestStore(t)

	results, err := s.ListResults()
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty list, got %d", len(results))
	}

	saveTestResult(t, s, "sess-1", "Asha")
	saveTestResult(t, s, "sess-2", "Ravi")

	results, err = s.ListResults()
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// Newest first.
	if results[0].SessionID != "sess-2" || results[1].SessionID != "sess-1" {
		t.Errorf("order = %s, %s; want sess-2, sess-1", results[0].SessionID, results[1].SessionID)
	}

	count, err := s.ResultCount()
	if err != nil {
		t.Fatalf("ResultCount: %v", err)
	}
	if count != 2 {
		t.Errorf("result count = %d, want 2", count)
	}
}

func TestDuplicateSessionRejected(t *testing.T) {
	s := newTestStore(t)
	saveTestResult(t, s, "sess-1", "")

	exam := testExam(t)
	now := time.Now().UTC()
	snap := model.Snapshot{
		SessionID:   "sess-1",
		ExamID:      exam.ID,
		Responses:   map[string]model.UserResponse{},
		Status:      model.SessionSubmitted,
		SubmittedAt: &now,
	}
	if err := s.SaveResult(snap, scoring.Report{}, exam); err == nil {
		t.Error("second result for the same session should violate the unique constraint")
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	val, err := s.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if val != "" {
		t.Errorf("missing key = %q, want empty", val)
	}

	if err := s.SetMetadata("active_exam", "exam-1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("active_exam", "exam-2"); err != nil {
		t.Fatalf("SetMetadata overwrite: %v", err)
	}
	val, err = s.GetMetadata("active_exam")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if val != "exam-2" {
		t.Errorf("value = %q, want exam-2", val)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("exams/jee.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("hash for unknown file = %q, want empty", hash)
	}

	if err := s.SetImportedFileHash("exams/jee.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash("exams/jee.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash overwrite: %v", err)
	}
	hash, err = s.GetImportedFileHash("exams/jee.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "def456" {
		t.Errorf("hash = %q, want def456", hash)
	}
}

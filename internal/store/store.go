// Package store is the durable collaborator behind the session boundary:
// an exam registry and the result sink, both on SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cbtsim/cbtsim/internal/model"
	"github.com/cbtsim/cbtsim/internal/scoring"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		exam_id TEXT NOT NULL,
		exam_name TEXT NOT NULL,
		candidate_name TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		correct_count INTEGER NOT NULL,
		incorrect_count INTEGER NOT NULL,
		attempted_count INTEGER NOT NULL,
		marked_count INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		responses TEXT NOT NULL,
		report TEXT NOT NULL,
		exam_snapshot TEXT NOT NULL,
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exam_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutExam upserts an exam with its full content as JSON. Replacing an exam
// wholesale is an admin operation that must happen before sessions start.
func (s *Store) PutExam(e model.Exam) error {
	content, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal exam %s: %w", e.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO exams (id, name, duration_minutes, content, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = ?, duration_minutes = ?, content = ?`,
		e.ID, e.Name, e.DurationMinutes, string(content), time.Now(),
		e.Name, e.DurationMinutes, string(content),
	)
	return err
}

// GetExam returns an exam by ID, unmarshaled from its stored content.
func (s *Store) GetExam(id string) (model.Exam, error) {
	var content string
	err := s.db.QueryRow(`SELECT content FROM exams WHERE id = ?`, id).Scan(&content)
	if err != nil {
		return model.Exam{}, err
	}
	var e model.Exam
	if err := json.Unmarshal([]byte(content), &e); err != nil {
		return model.Exam{}, fmt.Errorf("unmarshal exam %s: %w", id, err)
	}
	return e, nil
}

// ListExams returns all stored exams ordered by creation time.
func (s *Store) ListExams() ([]model.Exam, error) {
	rows, err := s.db.Query(`SELECT content FROM exams ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var exams []model.Exam
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		var e model.Exam
		if err := json.Unmarshal([]byte(content), &e); err != nil {
			return nil, fmt.Errorf("unmarshal exam: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ExamCount returns the number of stored exams.
func (s *Store) ExamCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exams`).Scan(&count)
	return count, err
}

// SaveResult persists a submitted session: the score summary, the full
// response ledger for replay, and an exam snapshot so the result stays
// renderable even if the exam content is later replaced. Implements the
// session result-sink contract.
func (s *Store) SaveResult(snap model.Snapshot, report scoring.Report, exam model.Exam) error {
	responses, err := json.Marshal(snap.Responses)
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	examJSON, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal exam snapshot: %w", err)
	}
	submittedAt := time.Now()
	if snap.SubmittedAt != nil {
		submittedAt = *snap.SubmittedAt
	}
	_, err = s.db.Exec(
		`INSERT INTO results (session_id, exam_id, exam_name, candidate_name,
			score, correct_count, incorrect_count, attempted_count, marked_count,
			total_questions, responses, report, exam_snapshot, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SessionID, snap.ExamID, exam.Name, snap.CandidateName,
		report.Score, report.CorrectCount, report.IncorrectCount,
		report.AttemptedCount, report.MarkedCount, report.TotalQuestions,
		string(responses), string(reportJSON), string(examJSON), submittedAt,
	)
	return err
}

// GetResult returns a stored result by row ID.
func (s *Store) GetResult(id int64) (model.StoredResult, error) {
	return s.scanResult(s.db.QueryRow(
		`SELECT id, session_id, exam_id, exam_name, candidate_name,
			score, correct_count, incorrect_count, attempted_count, marked_count,
			total_questions, responses, submitted_at
		 FROM results WHERE id = ?`, id,
	))
}

// GetResultBySession returns a stored result by session ID.
func (s *Store) GetResultBySession(sessionID string) (model.StoredResult, error) {
	return s.scanResult(s.db.QueryRow(
		`SELECT id, session_id, exam_id, exam_name, candidate_name,
			score, correct_count, incorrect_count, attempted_count, marked_count,
			total_questions, responses, submitted_at
		 FROM results WHERE session_id = ?`, sessionID,
	))
}

func (s *Store) scanResult(row *sql.Row) (model.StoredResult, error) {
	var r model.StoredResult
	var responses string
	err := row.Scan(&r.ID, &r.SessionID, &r.ExamID, &r.ExamName, &r.CandidateName,
		&r.Score, &r.CorrectCount, &r.IncorrectCount, &r.AttemptedCount, &r.MarkedCount,
		&r.TotalQuestions, &responses, &r.SubmittedAt)
	if err != nil {
		return model.StoredResult{}, err
	}
	if err := json.Unmarshal([]byte(responses), &r.Responses); err != nil {
		return model.StoredResult{}, fmt.Errorf("unmarshal responses: %w", err)
	}
	return r, nil
}

// GetResultReport returns the report stored at submission time, verbatim.
func (s *Store) GetResultReport(sessionID string) (scoring.Report, error) {
	var reportJSON string
	err := s.db.QueryRow(`SELECT report FROM results WHERE session_id = ?`, sessionID).Scan(&reportJSON)
	if err != nil {
		return scoring.Report{}, err
	}
	var report scoring.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return scoring.Report{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return report, nil
}

// GetResultExam returns the exam snapshot stored alongside a result, used
// by the review path to re-score the attempt identically.
func (s *Store) GetResultExam(sessionID string) (model.Exam, error) {
	var examJSON string
	err := s.db.QueryRow(`SELECT exam_snapshot FROM results WHERE session_id = ?`, sessionID).Scan(&examJSON)
	if err != nil {
		return model.Exam{}, err
	}
	var e model.Exam
	if err := json.Unmarshal([]byte(examJSON), &e); err != nil {
		return model.Exam{}, fmt.Errorf("unmarshal exam snapshot: %w", err)
	}
	return e, nil
}

// ListResults returns all stored results, newest first.
func (s *Store) ListResults() ([]model.StoredResult, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, exam_id, exam_name, candidate_name,
			score, correct_count, incorrect_count, attempted_count, marked_count,
			total_questions, responses, submitted_at
		 FROM results ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.StoredResult
	for rows.Next() {
		var r model.StoredResult
		var responses string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ExamID, &r.ExamName, &r.CandidateName,
			&r.Score, &r.CorrectCount, &r.IncorrectCount, &r.AttemptedCount, &r.MarkedCount,
			&r.TotalQuestions, &responses, &r.SubmittedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(responses), &r.Responses); err != nil {
			return nil, fmt.Errorf("unmarshal responses: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ResultCount returns the number of stored results.
func (s *Store) ResultCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}

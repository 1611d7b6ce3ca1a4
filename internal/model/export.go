package model

import "time"

// ResultExport is the top-level JSON structure for the export subcommand.
type ResultExport struct {
	ExamID       string         `json:"exam_id"`
	ExamName     string         `json:"exam_name"`
	Date         string         `json:"date"`
	NumQuestions int            `json:"num_questions"`
	Results      []StoredResult `json:"results"`
}

// StoredResult is one persisted exam attempt: the score summary plus the
// full response ledger so the attempt can be replayed and re-scored later.
type StoredResult struct {
	ID             int64                   `json:"id"`
	SessionID      string                  `json:"session_id"`
	ExamID         string                  `json:"exam_id"`
	ExamName       string                  `json:"exam_name"`
	CandidateName  string                  `json:"candidate_name,omitempty"`
	Score          int                     `json:"score"`
	CorrectCount   int                     `json:"correct_count"`
	IncorrectCount int                     `json:"incorrect_count"`
	AttemptedCount int                     `json:"attempted_count"`
	MarkedCount    int                     `json:"marked_for_review_count"`
	TotalQuestions int                     `json:"total_questions"`
	Responses      map[string]UserResponse `json:"responses"`
	SubmittedAt    time.Time               `json:"submitted_at"`
}

// Package digitizer is the document-understanding collaborator that turns a
// question paper into a structured exam via an OpenAI-compatible API. The
// exam engine itself never calls it; it only feeds the content loader.
package digitizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cbtsim/cbtsim/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new digitizer client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// DigitizePaper extracts questions from raw paper text and assembles them
// into an exam satisfying the content-supply contract.
func (c *Client) DigitizePaper(ctx context.Context, examID, examName string, durationMinutes int, paperText string) (model.Exam, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildExtractionPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: paperText},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		// Low temperature for factual extraction.
		Temperature: 0.1,
	})
	if err != nil {
		return model.Exam{}, fmt.Errorf("digitizer API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Exam{}, fmt.Errorf("digitizer returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("digitizer response", "raw", raw)

	var payload struct {
		Questions []model.PaperImport `json:"questions"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return model.Exam{}, fmt.Errorf("parse digitizer response: %w (raw: %s)", err, raw)
	}
	if len(payload.Questions) == 0 {
		return model.Exam{}, fmt.Errorf("digitizer extracted no questions")
	}

	return AssembleExam(examID, examName, durationMinutes, payload.Questions)
}

// AssembleExam builds an exam aggregate from extracted questions: subjects
// in first-seen order, Section A (MCQ) before Section B (numeric) within
// each subject, contiguous order indexes across the flattened traversal.
func AssembleExam(examID, examName string, durationMinutes int, imports []model.PaperImport) (model.Exam, error) {
	type subjectAcc struct {
		name    string
		mcq     []model.PaperImport
		numeric []model.PaperImport
	}
	var order []string
	subjects := make(map[string]*subjectAcc)

	for _, qi := range imports {
		name := strings.TrimSpace(qi.Subject)
		if name == "" || strings.TrimSpace(qi.QuestionText) == "" {
			continue
		}
		slug := slugify(name)
		acc, ok := subjects[slug]
		if !ok {
			acc = &subjectAcc{name: name}
			subjects[slug] = acc
			order = append(order, slug)
		}
		if strings.EqualFold(strings.TrimSpace(qi.SectionType), "B") {
			acc.numeric = append(acc.numeric, qi)
		} else {
			acc.mcq = append(acc.mcq, qi)
		}
	}
	if len(order) == 0 {
		return model.Exam{}, fmt.Errorf("no usable questions extracted")
	}

	exam := model.Exam{ID: examID, Name: examName, DurationMinutes: durationMinutes}
	orderIndex := 0
	for _, slug := range order {
		acc := subjects[slug]
		sub := model.Subject{ID: "sub-" + slug, Name: acc.name}

		if len(acc.mcq) > 0 {
			sec := model.Section{
				ID:        "sec-" + slug + "-a",
				Name:      "Section A",
				Type:      model.TypeMCQ,
				SubjectID: sub.ID,
			}
			for i, qi := range acc.mcq {
				qID := fmt.Sprintf("q-%s-%d", slug, i+1)
				q := model.Question{
					ID:         qID,
					Text:       qi.QuestionText,
					Type:       model.TypeMCQ,
					SectionID:  sec.ID,
					SubjectID:  sub.ID,
					OrderIndex: orderIndex,
				}
				for j, text := range qi.Options {
					q.Options = append(q.Options, model.Option{
						ID:        fmt.Sprintf("opt-%s-%d-%d", slug, i+1, j+1),
						Text:      text,
						IsCorrect: j == qi.CorrectIndex,
					})
				}
				sec.Questions = append(sec.Questions, q)
				orderIndex++
			}
			sub.Sections = append(sub.Sections, sec)
		}

		if len(acc.numeric) > 0 {
			sec := model.Section{
				ID:        "sec-" + slug + "-b",
				Name:      "Section B",
				Type:      model.TypeNumeric,
				SubjectID: sub.ID,
			}
			for i, qi := range acc.numeric {
				sec.Questions = append(sec.Questions, model.Question{
					ID:           fmt.Sprintf("q-%s-n%d", slug, i+1),
					Text:         qi.QuestionText,
					Type:         model.TypeNumeric,
					CorrectValue: qi.CorrectValue,
					SectionID:    sec.ID,
					SubjectID:    sub.ID,
					OrderIndex:   orderIndex,
				})
				orderIndex++
			}
			sub.Sections = append(sub.Sections, sec)
		}

		exam.Subjects = append(exam.Subjects, sub)
	}
	return exam, nil
}

func buildExtractionPrompt() string {
	var sb strings.Builder
	sb.WriteString("You are an expert exam digitizer for JEE Main question papers.\n")
	sb.WriteString("Extract ALL questions from the paper the user provides.\n\n")
	sb.WriteString("RULES:\n")
	sb.WriteString("- Convert all mathematics to LaTeX enclosed in single dollar signs ($...$).\n")
	sb.WriteString("- Categorize subjects as Physics, Chemistry, or Mathematics.\n")
	sb.WriteString("- sectionType is \"A\" for multiple-choice questions, \"B\" for numeric-value questions.\n")
	sb.WriteString("- For MCQs extract all four options; set correctIndex to the zero-based index of the correct option, or -1 if not indicated.\n")
	sb.WriteString("- For numeric questions set correctValue to the answer if indicated.\n")
	sb.WriteString("- Do not invent questions; skip anything unreadable.\n\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"subject": "Physics", "sectionType": "A", "questionText": "...", "options": ["...", "...", "...", "..."], "correctIndex": 0, "correctValue": 0}]}`)
	sb.WriteString("\n")
	return sb.String()
}

func slugify(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteRune('-')
		}
	}
	s := strings.Trim(sb.String(), "-")
	if s == "" {
		return "subject"
	}
	return s
}

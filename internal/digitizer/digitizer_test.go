package digitizer

import (
	"strings"
	"testing"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/model"
)

func sampleImports() []model.PaperImport {
	return []model.PaperImport{
		{
			Subject: "Physics", SectionType: "A",
			QuestionText: "Units of force?",
			Options:      []string{"Newton", "Joule", "Watt", "Pascal"},
			CorrectIndex: 0,
		},
		{
			Subject: "Physics", SectionType: "B",
			QuestionText: "Value of $4^2$?", CorrectValue: 16,
		},
		{
			Subject: "Chemistry", SectionType: "A",
			QuestionText: "Atomic number of He?",
			Options:      []string{"1", "2", "3", "4"},
			CorrectIndex: 1,
		},
	}
}

func TestAssembleExam(t *testing.T) {
	exam, err := AssembleExam("exam-1", "Mock Test 1", 180, sampleImports())
	if err != nil {
		t.Fatalf("AssembleExam: %v", err)
	}

	if exam.ID != "exam-1" || exam.Name != "Mock Test 1" || exam.DurationMinutes != 180 {
		t.Errorf("exam header = %q/%q/%d", exam.ID, exam.Name, exam.DurationMinutes)
	}

	// Subjects in first-seen order.
	if len(exam.Subjects) != 2 {
		t.Fatalf("got %d subjects, want 2", len(exam.Subjects))
	}
	if exam.Subjects[0].Name != "Physics" || exam.Subjects[1].Name != "Chemistry" {
		t.Errorf("subject order = %s, %s", exam.Subjects[0].Name, exam.Subjects[1].Name)
	}

	// Physics gets Section A then Section B; Chemistry only Section A.
	phys := exam.Subjects[0]
	if len(phys.Sections) != 2 {
		t.Fatalf("physics has %d sections, want 2", len(phys.Sections))
	}
	if phys.Sections[0].Type != model.TypeMCQ || phys.Sections[1].Type != model.TypeNumeric {
		t.Errorf("physics section types = %s, %s", phys.Sections[0].Type, phys.Sections[1].Type)
	}
	if phys.Sections[0].Name != "Section A" || phys.Sections[1].Name != "Section B" {
		t.Errorf("physics section names = %s, %s", phys.Sections[0].Name, phys.Sections[1].Name)
	}

	mcq := phys.Sections[0].Questions[0]
	if len(mcq.Options) != 4 {
		t.Fatalf("MCQ has %d options, want 4", len(mcq.Options))
	}
	if !mcq.Options[0].IsCorrect || mcq.Options[1].IsCorrect {
		t.Error("correct index not applied to options")
	}

	num := phys.Sections[1].Questions[0]
	if num.CorrectValue != 16 {
		t.Errorf("numeric correct value = %v, want 16", num.CorrectValue)
	}

	// The assembled exam must pass content validation as-is: contiguous
	// order indexes, unique IDs, matching owner IDs.
	if _, err := content.NewIndex(exam); err != nil {
		t.Errorf("assembled exam fails validation: %v", err)
	}
}

func TestAssembleExamSkipsUnusable(t *testing.T) {
	imports := append(sampleImports(),
		model.PaperImport{Subject: "", QuestionText: "orphan"},
		model.PaperImport{Subject: "Physics", QuestionText: "   "},
	)
	exam, err := AssembleExam("exam-1", "Mock", 60, imports)
	if err != nil {
		t.Fatalf("AssembleExam: %v", err)
	}
	if exam.QuestionCount() != 3 {
		t.Errorf("question count = %d, want 3", exam.QuestionCount())
	}
}

func TestAssembleExamUnknownCorrectIndex(t *testing.T) {
	imports := []model.PaperImport{{
		Subject: "Physics", SectionType: "A",
		QuestionText: "Q", Options: []string{"a", "b"}, CorrectIndex: -1,
	}}
	exam, err := AssembleExam("exam-1", "Mock", 60, imports)
	if err != nil {
		t.Fatalf("AssembleExam: %v", err)
	}
	for _, opt := range exam.Subjects[0].Sections[0].Questions[0].Options {
		if opt.IsCorrect {
			t.Error("no option should be flagged correct when the key is unknown")
		}
	}
	// Still valid content: the question is unscorable but navigable.
	if _, err := content.NewIndex(exam); err != nil {
		t.Errorf("exam without answer key fails validation: %v", err)
	}
}

func TestAssembleExamEmpty(t *testing.T) {
	if _, err := AssembleExam("exam-1", "Mock", 60, nil); err == nil {
		t.Error("expected error for empty imports")
	}
	if _, err := AssembleExam("exam-1", "Mock", 60, []model.PaperImport{{Subject: ""}}); err == nil {
		t.Error("expected error when nothing usable survives filtering")
	}
}

func TestExtractionPrompt(t *testing.T) {
	prompt := buildExtractionPrompt()

	for _, want := range []string{
		"JSON",
		"questions",
		"sectionType",
		"correctIndex",
		"LaTeX",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Physics", "physics"},
		{"Organic Chemistry", "organic-chemistry"},
		{"  Maths  ", "maths"},
		{"Überphysik", "berphysik"},
		{"###", "subject"},
	}
	for _, tt := range tests {
		if got := slugify(tt.in); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

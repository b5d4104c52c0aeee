package model

import (
	"time"

	"github.com/google/uuid"
)

// SectionType determines the question variant every question in a section carries.
type SectionType string

const (
	SectionSingleChoice SectionType = "single_choice"
	SectionMultiChoice  SectionType = "multi_choice"
	SectionFreeText     SectionType = "free_text"
	SectionCoding       SectionType = "coding"
)

// IsChoice reports whether questions of this type carry an option list.
func (t SectionType) IsChoice() bool {
	return t == SectionSingleChoice || t == SectionMultiChoice
}

// Difficulty is an authoring hint only; it has no effect on scoring.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Assessment is the exam definition. Immutable once IsPublished is set.
type Assessment struct {
	ID                     uuid.UUID  `json:"id"`
	Title                  string     `json:"title"`
	Description            string     `json:"description,omitempty"`
	TeacherID              int        `json:"teacher_id"`
	TotalMarks             float64    `json:"total_marks"`
	DurationMinutes        int        `json:"duration_minutes"`
	StartTime              *time.Time `json:"start_time,omitempty"`
	EndTime                *time.Time `json:"end_time,omitempty"`
	IsPublished            bool       `json:"is_published"`
	AllowLateSubmission    bool       `json:"allow_late_submission"`
	RandomizeQuestions     bool       `json:"randomize_questions"`
	ShowResultsImmediately bool       `json:"show_results_immediately"`
	FaceDetectionEnabled   bool       `json:"face_detection_enabled"`
	ScreenRecordingEnabled bool       `json:"screen_recording_enabled"`
	Sections               []Section  `json:"sections,omitempty"`
	PublishedAt            *time.Time `json:"published_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Duration returns the assessment duration as a time.Duration.
func (a *Assessment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// DerivedTotalMarks sums marks-per-question over every question of every section.
func (a *Assessment) DerivedTotalMarks() float64 {
	var total float64
	for _, s := range a.Sections {
		total += s.MarksPerQuestion * float64(len(s.Questions))
	}
	return total
}

// FindQuestion locates a question and its owning section.
func (a *Assessment) FindQuestion(id uuid.UUID) (*Section, *Question, bool) {
	for i := range a.Sections {
		for j := range a.Sections[i].Questions {
			if a.Sections[i].Questions[j].ID == id {
				return &a.Sections[i], &a.Sections[i].Questions[j], true
			}
		}
	}
	return nil, nil, false
}

// SectionByOrder returns the section at the 1-based position.
func (a *Assessment) SectionByOrder(order int) (*Section, bool) {
	for i := range a.Sections {
		if a.Sections[i].SectionOrder == order {
			return &a.Sections[i], true
		}
	}
	return nil, false
}

// QuestionCount returns the number of questions across all sections.
func (a *Assessment) QuestionCount() int {
	n := 0
	for _, s := range a.Sections {
		n += len(s.Questions)
	}
	return n
}

// Section is an ordered, typed group of questions.
type Section struct {
	ID               uuid.UUID   `json:"id"`
	AssessmentID     uuid.UUID   `json:"assessment_id"`
	Title            string      `json:"title"`
	Description      string      `json:"description,omitempty"`
	Type             SectionType `json:"section_type"`
	TimeLimitMinutes *int        `json:"time_limit_minutes,omitempty"`
	MarksPerQuestion float64     `json:"marks_per_question"`
	NegativeMarking  float64     `json:"negative_marking"`
	SectionOrder     int         `json:"section_order"`
	Questions        []Question  `json:"questions,omitempty"`
}

// TimeLimit returns the optional soft section limit.
func (s *Section) TimeLimit() (time.Duration, bool) {
	if s.TimeLimitMinutes == nil || *s.TimeLimitMinutes <= 0 {
		return 0, false
	}
	return time.Duration(*s.TimeLimitMinutes) * time.Minute, true
}

// Question is a typed variant keyed by the owning section's type.
// Exactly one of Choice, FreeText, Coding is set.
type Question struct {
	ID            uuid.UUID        `json:"id"`
	SectionID     uuid.UUID        `json:"section_id"`
	QuestionText  string           `json:"question_text"`
	Difficulty    Difficulty       `json:"difficulty_level"`
	QuestionOrder int              `json:"question_order"`
	Choice        *ChoiceContent   `json:"choice,omitempty"`
	FreeText      *FreeTextContent `json:"free_text,omitempty"`
	Coding        *CodingContent   `json:"coding,omitempty"`
}

// ChoiceContent holds options and the indices of the correct ones.
type ChoiceContent struct {
	Options        []string `json:"options"`
	CorrectAnswers []int    `json:"correct_answers"`
}

// FreeTextContent is never auto-graded.
type FreeTextContent struct {
	MaxWords        *int   `json:"max_words,omitempty"`
	ReferenceAnswer string `json:"reference_answer,omitempty"`
}

// CodingContent describes an auto-graded programming question.
type CodingContent struct {
	Language         string     `json:"programming_language"`
	StarterCode      string     `json:"starter_code,omitempty"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	MemoryLimitMB    int        `json:"memory_limit_mb"`
	TestCases        []TestCase `json:"test_cases"`
}

// TimeLimit returns the per-execution limit.
func (c *CodingContent) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds) * time.Second
}

// TestCase is one input/expected-output pair. Hidden cases are never shown to students.
type TestCase struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	IsHidden       bool    `json:"is_hidden"`
	Points         float64 `json:"points"`
}

// AssessmentPaper is the student-facing copy of a published assessment (no answers,
// no hidden test cases). Cached in Redis on publish.
type AssessmentPaper struct {
	AssessmentID    uuid.UUID      `json:"assessment_id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	DurationMinutes int            `json:"duration_minutes"`
	TotalMarks      float64        `json:"total_marks"`
	FaceDetection   bool           `json:"face_detection_enabled"`
	Sections        []PaperSection `json:"sections"`
}

// PaperSection is a section as shown to students.
type PaperSection struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Type             SectionType     `json:"section_type"`
	TimeLimitMinutes *int            `json:"time_limit_minutes,omitempty"`
	MarksPerQuestion float64         `json:"marks_per_question"`
	NegativeMarking  float64         `json:"negative_marking"`
	SectionOrder     int             `json:"section_order"`
	Questions        []PaperQuestion `json:"questions"`
}

// PaperQuestion is a question without correct answers or hidden test cases.
type PaperQuestion struct {
	ID               uuid.UUID  `json:"id"`
	QuestionText     string     `json:"question_text"`
	Options          []string   `json:"options,omitempty"`
	MaxWords         *int       `json:"max_words,omitempty"`
	Language         string     `json:"programming_language,omitempty"`
	StarterCode      string     `json:"starter_code,omitempty"`
	TimeLimitSeconds int        `json:"time_limit_seconds,omitempty"`
	SampleTests      []TestCase `json:"sample_tests,omitempty"`
}

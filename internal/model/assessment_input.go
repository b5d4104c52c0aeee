package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// AssessmentInput is the teacher-authored payload for creating or replacing a draft.
// Field rules live in `validate` tags; cross-field rules live in the validator package.
type AssessmentInput struct {
	Title                  string         `json:"title" validate:"required,min=3,max=255"`
	Description            string         `json:"description" validate:"max=5000"`
	TotalMarks             *float64       `json:"total_marks" validate:"omitempty,gte=0"`
	DurationMinutes        int            `json:"duration_minutes" validate:"required,min=5,max=480"`
	StartTime              *time.Time     `json:"start_time"`
	EndTime                *time.Time     `json:"end_time"`
	AllowLateSubmission    bool           `json:"allow_late_submission"`
	RandomizeQuestions     bool           `json:"randomize_questions"`
	ShowResultsImmediately bool           `json:"show_results_immediately"`
	FaceDetectionEnabled   *bool          `json:"face_detection_enabled"`
	ScreenRecordingEnabled *bool          `json:"screen_recording_enabled"`
	Sections               []SectionInput `json:"sections" validate:"dive"`
}

// SectionInput is one authored section.
type SectionInput struct {
	Title            string          `json:"title" validate:"required,min=2,max=255"`
	Description      string          `json:"description" validate:"max=2000"`
	Type             SectionType     `json:"section_type" validate:"required,oneof=single_choice multi_choice free_text coding"`
	TimeLimitMinutes *int            `json:"time_limit_minutes" validate:"omitempty,min=1,max=120"`
	MarksPerQuestion float64         `json:"marks_per_question" validate:"gte=1"`
	NegativeMarking  float64         `json:"negative_marking" validate:"gte=0,lte=1"`
	SectionOrder     int             `json:"section_order" validate:"gte=0"`
	Questions        []QuestionInput `json:"questions" validate:"dive"`
}

// QuestionInput carries the union of all question variant fields; only the ones
// matching the section type are read.
type QuestionInput struct {
	QuestionText string     `json:"question_text" validate:"required,min=10,max=10000"`
	Difficulty   Difficulty `json:"difficulty_level" validate:"omitempty,oneof=easy medium hard"`

	Options        []string `json:"options" validate:"omitempty,dive,required,max=1000"`
	CorrectAnswers []int    `json:"correct_answers" validate:"omitempty,dive,gte=0"`

	MaxWords        *int   `json:"max_words" validate:"omitempty,min=10,max=1000"`
	ReferenceAnswer string `json:"reference_answer" validate:"max=20000"`

	Language         string          `json:"programming_language" validate:"omitempty,oneof=javascript python java cpp c go"`
	StarterCode      string          `json:"starter_code" validate:"max=20000"`
	TimeLimitSeconds int             `json:"time_limit_seconds" validate:"omitempty,min=30,max=600"`
	MemoryLimitMB    int             `json:"memory_limit_mb" validate:"omitempty,min=32,max=512"`
	TestCases        []TestCaseInput `json:"test_cases" validate:"omitempty,dive"`
}

// TestCaseInput is one authored test case.
type TestCaseInput struct {
	Input          string  `json:"input" validate:"max=100000"`
	ExpectedOutput string  `json:"expected_output" validate:"max=100000"`
	IsHidden       bool    `json:"is_hidden"`
	Points         float64 `json:"points" validate:"gt=0"`
}

// Build turns a validated payload into an unpublished assessment with fresh ids.
func (in *AssessmentInput) Build(id uuid.UUID, teacherID int, now time.Time) *Assessment {
	a := &Assessment{
		ID:                     id,
		Title:                  in.Title,
		Description:            in.Description,
		TeacherID:              teacherID,
		DurationMinutes:        in.DurationMinutes,
		StartTime:              in.StartTime,
		EndTime:                in.EndTime,
		AllowLateSubmission:    in.AllowLateSubmission,
		RandomizeQuestions:     in.RandomizeQuestions,
		ShowResultsImmediately: in.ShowResultsImmediately,
		FaceDetectionEnabled:   boolOr(in.FaceDetectionEnabled, true),
		ScreenRecordingEnabled: boolOr(in.ScreenRecordingEnabled, true),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	a.Sections = make([]Section, 0, len(in.Sections))
	for _, si := range in.Sections {
		sec := Section{
			ID:               uuid.New(),
			AssessmentID:     id,
			Title:            si.Title,
			Description:      si.Description,
			Type:             si.Type,
			TimeLimitMinutes: si.TimeLimitMinutes,
			MarksPerQuestion: si.MarksPerQuestion,
			NegativeMarking:  si.NegativeMarking,
			SectionOrder:     si.SectionOrder,
			Questions:        make([]Question, 0, len(si.Questions)),
		}
		for j, qi := range si.Questions {
			sec.Questions = append(sec.Questions, qi.build(sec.ID, si.Type, j+1))
		}
		a.Sections = append(a.Sections, sec)
	}
	sort.Slice(a.Sections, func(i, j int) bool { return a.Sections[i].SectionOrder < a.Sections[j].SectionOrder })

	a.TotalMarks = a.DerivedTotalMarks()
	return a
}

func (qi QuestionInput) build(sectionID uuid.UUID, typ SectionType, order int) Question {
	difficulty := qi.Difficulty
	if difficulty == "" {
		difficulty = DifficultyMedium
	}
	q := Question{
		ID:            uuid.New(),
		SectionID:     sectionID,
		QuestionText:  qi.QuestionText,
		Difficulty:    difficulty,
		QuestionOrder: order,
	}

	switch typ {
	case SectionSingleChoice, SectionMultiChoice:
		q.Choice = &ChoiceContent{Options: qi.Options, CorrectAnswers: qi.CorrectAnswers}
	case SectionFreeText:
		q.FreeText = &FreeTextContent{MaxWords: qi.MaxWords, ReferenceAnswer: qi.ReferenceAnswer}
	case SectionCoding:
		cases := make([]TestCase, 0, len(qi.TestCases))
		for _, tc := range qi.TestCases {
			cases = append(cases, TestCase(tc))
		}
		q.Coding = &CodingContent{
			Language:         qi.Language,
			StarterCode:      qi.StarterCode,
			TimeLimitSeconds: qi.TimeLimitSeconds,
			MemoryLimitMB:    qi.MemoryLimitMB,
			TestCases:        cases,
		}
	}
	return q
}

// InputFromAssessment reverses Build so a stored draft can be re-validated.
func InputFromAssessment(a *Assessment) *AssessmentInput {
	total := a.TotalMarks
	face := a.FaceDetectionEnabled
	screen := a.ScreenRecordingEnabled
	in := &AssessmentInput{
		Title:                  a.Title,
		Description:            a.Description,
		TotalMarks:             &total,
		DurationMinutes:        a.DurationMinutes,
		StartTime:              a.StartTime,
		EndTime:                a.EndTime,
		AllowLateSubmission:    a.AllowLateSubmission,
		RandomizeQuestions:     a.RandomizeQuestions,
		ShowResultsImmediately: a.ShowResultsImmediately,
		FaceDetectionEnabled:   &face,
		ScreenRecordingEnabled: &screen,
		Sections:               make([]SectionInput, 0, len(a.Sections)),
	}

	for _, s := range a.Sections {
		si := SectionInput{
			Title:            s.Title,
			Description:      s.Description,
			Type:             s.Type,
			TimeLimitMinutes: s.TimeLimitMinutes,
			MarksPerQuestion: s.MarksPerQuestion,
			NegativeMarking:  s.NegativeMarking,
			SectionOrder:     s.SectionOrder,
			Questions:        make([]QuestionInput, 0, len(s.Questions)),
		}
		for _, q := range s.Questions {
			qi := QuestionInput{QuestionText: q.QuestionText, Difficulty: q.Difficulty}
			switch {
			case q.Choice != nil:
				qi.Options = q.Choice.Options
				qi.CorrectAnswers = q.Choice.CorrectAnswers
			case q.FreeText != nil:
				qi.MaxWords = q.FreeText.MaxWords
				qi.ReferenceAnswer = q.FreeText.ReferenceAnswer
			case q.Coding != nil:
				qi.Language = q.Coding.Language
				qi.StarterCode = q.Coding.StarterCode
				qi.TimeLimitSeconds = q.Coding.TimeLimitSeconds
				qi.MemoryLimitMB = q.Coding.MemoryLimitMB
				for _, tc := range q.Coding.TestCases {
					qi.TestCases = append(qi.TestCases, TestCaseInput(tc))
				}
			}
			si.Questions = append(si.Questions, qi)
		}
		in.Sections = append(in.Sections, si)
	}
	return in
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

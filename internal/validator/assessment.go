package validator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	"github.com/stemsi/examguard-backend/internal/model"
)

const (
	minOptions          = 2
	maxOptions          = 6
	minCodingTextLength = 20
)

// FieldErrors maps a field path such as "sections[0].questions[2].correct_answers"
// to a message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (f FieldErrors) add(path, msg string) {
	if _, exists := f[path]; !exists {
		f[path] = msg
	}
}

var (
	authoring      = govalidator.New(govalidator.WithRequiredStructEnabled())
	authoringTrans ut.Translator
)

func init() {
	authoringTrans = configure(authoring)
}

// ValidateAssessment checks an authoring payload. Section orders left at zero
// are assigned by position before checking. forPublish adds the rules a draft
// must satisfy before it becomes immutable. Returns nil or FieldErrors.
func ValidateAssessment(in *model.AssessmentInput, forPublish bool) error {
	errs := FieldErrors{}
	if in == nil {
		errs.add("body", "assessment payload is required")
		return errs
	}

	NormalizeSectionOrder(in)

	if err := authoring.Struct(in); err != nil {
		var ve govalidator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				errs.add(fieldPath(fe), fe.Translate(authoringTrans))
			}
		} else {
			errs.add("body", err.Error())
		}
	}

	if in.StartTime != nil && in.EndTime != nil && !in.EndTime.After(*in.StartTime) {
		errs.add("end_time", "end_time must be after start_time")
	}

	checkSectionOrder(in.Sections, errs)

	for i := range in.Sections {
		checkSection(fmt.Sprintf("sections[%d]", i), &in.Sections[i], errs)
	}

	if in.TotalMarks != nil {
		derived := DerivedTotalMarks(in)
		if math.Abs(*in.TotalMarks-derived) > 1e-9 {
			errs.add("total_marks", fmt.Sprintf("total_marks must equal the sum of section marks (%g)", derived))
		}
	}

	if forPublish {
		hasQuestion := false
		for _, s := range in.Sections {
			if len(s.Questions) > 0 {
				hasQuestion = true
				break
			}
		}
		if !hasQuestion {
			errs.add("sections", "a published assessment needs at least one section with at least one question")
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateAssessmentDefinition re-checks a stored draft before publishing.
func ValidateAssessmentDefinition(a *model.Assessment) error {
	return ValidateAssessment(model.InputFromAssessment(a), true)
}

// DerivedTotalMarks sums marks_per_question × question count over all sections.
func DerivedTotalMarks(in *model.AssessmentInput) float64 {
	var total float64
	for _, s := range in.Sections {
		total += s.MarksPerQuestion * float64(len(s.Questions))
	}
	return total
}

// NormalizeSectionOrder assigns 1..N by position when no section declares an order.
func NormalizeSectionOrder(in *model.AssessmentInput) {
	for _, s := range in.Sections {
		if s.SectionOrder != 0 {
			return
		}
	}
	for i := range in.Sections {
		in.Sections[i].SectionOrder = i + 1
	}
}

func checkSectionOrder(sections []model.SectionInput, errs FieldErrors) {
	seen := make(map[int]int, len(sections))
	for i, s := range sections {
		path := fmt.Sprintf("sections[%d].section_order", i)
		if s.SectionOrder < 1 || s.SectionOrder > len(sections) {
			errs.add(path, fmt.Sprintf("section_order must be between 1 and %d", len(sections)))
			continue
		}
		if prev, dup := seen[s.SectionOrder]; dup {
			errs.add(path, fmt.Sprintf("section_order duplicates sections[%d]", prev))
			continue
		}
		seen[s.SectionOrder] = i
	}
}

func checkSection(path string, s *model.SectionInput, errs FieldErrors) {
	for j := range s.Questions {
		qPath := fmt.Sprintf("%s.questions[%d]", path, j)
		q := &s.Questions[j]

		switch s.Type {
		case model.SectionSingleChoice, model.SectionMultiChoice:
			checkChoice(qPath, s.Type, q, errs)
		case model.SectionCoding:
			checkCoding(qPath, q, errs)
		}
	}
}

func checkChoice(path string, typ model.SectionType, q *model.QuestionInput, errs FieldErrors) {
	n := len(q.Options)
	if n < minOptions || n > maxOptions {
		errs.add(path+".options", fmt.Sprintf("options must contain between %d and %d entries", minOptions, maxOptions))
	}

	switch {
	case typ == model.SectionSingleChoice && len(q.CorrectAnswers) != 1:
		errs.add(path+".correct_answers", "single choice questions need exactly one correct answer")
		return
	case typ == model.SectionMultiChoice && len(q.CorrectAnswers) == 0:
		errs.add(path+".correct_answers", "multiple choice questions need at least one correct answer")
		return
	}

	seen := make(map[int]bool, len(q.CorrectAnswers))
	for _, idx := range q.CorrectAnswers {
		if idx < 0 || idx >= n {
			errs.add(path+".correct_answers", fmt.Sprintf("correct answer index %d is out of range", idx))
			return
		}
		if seen[idx] {
			errs.add(path+".correct_answers", fmt.Sprintf("correct answer index %d is repeated", idx))
			return
		}
		seen[idx] = true
	}
}

func checkCoding(path string, q *model.QuestionInput, errs FieldErrors) {
	if len(strings.TrimSpace(q.QuestionText)) < minCodingTextLength {
		errs.add(path+".question_text", fmt.Sprintf("question_text must be at least %d characters for coding questions", minCodingTextLength))
	}
	if q.Language == "" {
		errs.add(path+".programming_language", "programming_language is required for coding questions")
	}
	if q.TimeLimitSeconds == 0 {
		errs.add(path+".time_limit_seconds", "time_limit_seconds is required for coding questions")
	}
	if q.MemoryLimitMB == 0 {
		errs.add(path+".memory_limit_mb", "memory_limit_mb is required for coding questions")
	}
	if len(q.TestCases) == 0 {
		errs.add(path+".test_cases", "coding questions need at least one test case")
	}
}

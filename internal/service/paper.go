package service

import (
	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
)

// BuildPaper strips correct answers, reference answers and hidden test cases
// from a definition.
func BuildPaper(a *model.Assessment) *model.AssessmentPaper {
	paper := &model.AssessmentPaper{
		AssessmentID:    a.ID,
		Title:           a.Title,
		Description:     a.Description,
		DurationMinutes: a.DurationMinutes,
		TotalMarks:      a.TotalMarks,
		FaceDetection:   a.FaceDetectionEnabled,
		Sections:        make([]model.PaperSection, 0, len(a.Sections)),
	}

	for _, s := range a.Sections {
		ps := model.PaperSection{
			ID:               s.ID,
			Title:            s.Title,
			Description:      s.Description,
			Type:             s.Type,
			TimeLimitMinutes: s.TimeLimitMinutes,
			MarksPerQuestion: s.MarksPerQuestion,
			NegativeMarking:  s.NegativeMarking,
			SectionOrder:     s.SectionOrder,
			Questions:        make([]model.PaperQuestion, 0, len(s.Questions)),
		}
		for _, q := range s.Questions {
			pq := model.PaperQuestion{ID: q.ID, QuestionText: q.QuestionText}
			switch {
			case q.Choice != nil:
				pq.Options = append([]string(nil), q.Choice.Options...)
			case q.FreeText != nil:
				pq.MaxWords = q.FreeText.MaxWords
			case q.Coding != nil:
				pq.Language = q.Coding.Language
				pq.StarterCode = q.Coding.StarterCode
				pq.TimeLimitSeconds = q.Coding.TimeLimitSeconds
				for _, tc := range q.Coding.TestCases {
					if !tc.IsHidden {
						pq.SampleTests = append(pq.SampleTests, tc)
					}
				}
			}
			ps.Questions = append(ps.Questions, pq)
		}
		paper.Sections = append(paper.Sections, ps)
	}
	return paper
}

// OrderForSession returns a copy of the paper with questions shuffled inside
// each section. The permutation is seeded from the session id, so the same
// student always sees the same order. Sections keep their authored order.
func OrderForSession(paper *model.AssessmentPaper, sessionID uuid.UUID) *model.AssessmentPaper {
	out := *paper
	out.Sections = make([]model.PaperSection, len(paper.Sections))

	for i, s := range paper.Sections {
		order := model.QuestionOrder(sessionID, s.ID, len(s.Questions))
		qs := make([]model.PaperQuestion, len(s.Questions))
		for pos, idx := range order {
			qs[pos] = s.Questions[idx]
		}
		s.Questions = qs
		out.Sections[i] = s
	}
	return &out
}

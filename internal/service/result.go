package service

import (
	"github.com/stemsi/examguard-backend/internal/model"
)

// StudentResult renders a session's result for the student. Scores are only
// released once the session is evaluated and the assessment shows results
// immediately; hidden test cases never expose their output.
func StudentResult(s *model.Session, a *model.Assessment) *model.SessionResult {
	res := &model.SessionResult{SessionID: s.ID, Status: s.Status}
	if s.Status != model.SessionEvaluated || !a.ShowResultsImmediately {
		return res
	}

	res.TotalScore = s.TotalScore
	res.Percentage = s.Percentage
	res.PendingReview = s.PendingReview
	if s.Breakdown != nil {
		res.Breakdown = redactBreakdown(s.Breakdown)
	}
	return res
}

// TeacherResult is the unredacted result.
func TeacherResult(s *model.Session) *model.SessionResult {
	return &model.SessionResult{
		SessionID:     s.ID,
		Status:        s.Status,
		TotalScore:    s.TotalScore,
		Percentage:    s.Percentage,
		PendingReview: s.PendingReview,
		Breakdown:     s.Breakdown,
	}
}

func redactBreakdown(b *model.ScoreBreakdown) *model.ScoreBreakdown {
	out := *b
	out.Sections = make([]model.SectionScore, len(b.Sections))
	for i, sec := range b.Sections {
		qs := make([]model.QuestionScore, len(sec.Questions))
		for j, q := range sec.Questions {
			if len(q.TestResults) > 0 {
				results := make([]model.TestCaseResult, len(q.TestResults))
				for k, r := range q.TestResults {
					if r.Hidden {
						r.Stdout = ""
						r.Detail = ""
					}
					results[k] = r
				}
				q.TestResults = results
			}
			qs[j] = q
		}
		sec.Questions = qs
		out.Sections[i] = sec
	}
	return &out
}

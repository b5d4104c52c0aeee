package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperFixture() *model.Assessment {
	maxWords := 200
	mcq := model.Section{
		ID: uuid.New(), Title: "Choice", Type: model.SectionSingleChoice,
		MarksPerQuestion: 1, NegativeMarking: 0.25, SectionOrder: 1,
	}
	for i := 0; i < 8; i++ {
		mcq.Questions = append(mcq.Questions, model.Question{
			ID:            uuid.New(),
			QuestionText:  "q",
			QuestionOrder: i + 1,
			Choice:        &model.ChoiceContent{Options: []string{"a", "b", "c"}, CorrectAnswers: []int{1}},
		})
	}
	essay := model.Section{
		ID: uuid.New(), Title: "Essay", Type: model.SectionFreeText, SectionOrder: 2, MarksPerQuestion: 5,
		Questions: []model.Question{{
			ID:       uuid.New(),
			FreeText: &model.FreeTextContent{MaxWords: &maxWords, ReferenceAnswer: "secret"},
		}},
	}
	coding := model.Section{
		ID: uuid.New(), Title: "Code", Type: model.SectionCoding, SectionOrder: 3, MarksPerQuestion: 10,
		Questions: []model.Question{{
			ID: uuid.New(),
			Coding: &model.CodingContent{
				Language:         "python",
				StarterCode:      "def f(): pass",
				TimeLimitSeconds: 2,
				TestCases: []model.TestCase{
					{Input: "1", ExpectedOutput: "1"},
					{Input: "2", ExpectedOutput: "4", IsHidden: true},
				},
			},
		}},
	}
	return &model.Assessment{
		ID:              uuid.New(),
		Title:           "Midterm",
		DurationMinutes: 60,
		TotalMarks:      23,
		IsPublished:     true,
		Sections:        []model.Section{mcq, essay, coding},
	}
}

func questionIDs(s model.PaperSection) []uuid.UUID {
	ids := make([]uuid.UUID, len(s.Questions))
	for i, q := range s.Questions {
		ids[i] = q.ID
	}
	return ids
}

// ─── Paper ──────────────────────────────────────────────────────────

func TestBuildPaper_StripsAnswersAndHiddenTests(t *testing.T) {
	a := paperFixture()
	paper := BuildPaper(a)

	require.Len(t, paper.Sections, 3)
	raw, err := json.Marshal(paper)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct_answers")
	assert.NotContains(t, string(raw), "secret")

	assert.Equal(t, []string{"a", "b", "c"}, paper.Sections[0].Questions[0].Options)
	assert.Equal(t, 200, *paper.Sections[1].Questions[0].MaxWords)

	code := paper.Sections[2].Questions[0]
	require.Len(t, code.SampleTests, 1)
	assert.Equal(t, "1", code.SampleTests[0].Input)
	assert.Equal(t, "def f(): pass", code.StarterCode)
}

func TestBuildPaper_OptionsAreCopied(t *testing.T) {
	a := paperFixture()
	paper := BuildPaper(a)

	paper.Sections[0].Questions[0].Options[0] = "changed"
	assert.Equal(t, "a", a.Sections[0].Questions[0].Choice.Options[0])
}

func TestOrderForSession_DeterministicPerSession(t *testing.T) {
	paper := BuildPaper(paperFixture())
	sid := uuid.New()

	first := OrderForSession(paper, sid)
	second := OrderForSession(paper, sid)
	assert.Equal(t, questionIDs(first.Sections[0]), questionIDs(second.Sections[0]))
}

func TestOrderForSession_ShufflesWithinSectionsOnly(t *testing.T) {
	paper := BuildPaper(paperFixture())
	original := questionIDs(paper.Sections[0])

	out := OrderForSession(paper, uuid.New())

	require.Len(t, out.Sections, len(paper.Sections))
	for i := range paper.Sections {
		assert.Equal(t, paper.Sections[i].ID, out.Sections[i].ID)
		assert.ElementsMatch(t, questionIDs(paper.Sections[i]), questionIDs(out.Sections[i]))
	}
	assert.Equal(t, original, questionIDs(paper.Sections[0]), "input paper must not be reordered")
}

func TestOrderForSession_DiffersAcrossSessions(t *testing.T) {
	paper := BuildPaper(paperFixture())
	base := questionIDs(OrderForSession(paper, uuid.New()).Sections[0])

	// Eight questions give 40320 orders; twenty sessions all matching would mean no shuffle.
	different := false
	for i := 0; i < 20 && !different; i++ {
		different = !assert.ObjectsAreEqual(base, questionIDs(OrderForSession(paper, uuid.New()).Sections[0]))
	}
	assert.True(t, different)
}

// ─── Result ─────────────────────────────────────────────────────────

func evaluatedSession() *model.Session {
	score, pct := 7.5, 75.0
	return &model.Session{
		ID:         uuid.New(),
		Status:     model.SessionEvaluated,
		TotalScore: &score,
		Percentage: &pct,
		Breakdown: &model.ScoreBreakdown{
			TotalScore: 7.5,
			Sections: []model.SectionScore{{
				Questions: []model.QuestionScore{{
					QuestionID: uuid.New(),
					TestResults: []model.TestCaseResult{
						{Index: 0, Status: model.TestPassed, Stdout: "1"},
						{Index: 1, Status: model.TestWrongAnswer, Hidden: true, Stdout: "5", Detail: "expected 4"},
					},
				}},
			}},
		},
	}
}

func TestStudentResult_WithheldUntilEvaluated(t *testing.T) {
	s := evaluatedSession()
	s.Status = model.SessionSubmitted

	res := StudentResult(s, &model.Assessment{ShowResultsImmediately: true})
	assert.Equal(t, model.SessionSubmitted, res.Status)
	assert.Nil(t, res.TotalScore)
	assert.Nil(t, res.Breakdown)
}

func TestStudentResult_WithheldWhenNotShownImmediately(t *testing.T) {
	res := StudentResult(evaluatedSession(), &model.Assessment{ShowResultsImmediately: false})
	assert.Nil(t, res.TotalScore)
	assert.Nil(t, res.Breakdown)
}

func TestStudentResult_RedactsHiddenOutput(t *testing.T) {
	s := evaluatedSession()
	res := StudentResult(s, &model.Assessment{ShowResultsImmediately: true})

	require.NotNil(t, res.TotalScore)
	assert.Equal(t, 7.5, *res.TotalScore)
	results := res.Breakdown.Sections[0].Questions[0].TestResults
	assert.Equal(t, "1", results[0].Stdout)
	assert.Empty(t, results[1].Stdout)
	assert.Empty(t, results[1].Detail)
	assert.Equal(t, model.TestWrongAnswer, results[1].Status)

	// The stored breakdown is untouched.
	assert.Equal(t, "5", s.Breakdown.Sections[0].Questions[0].TestResults[1].Stdout)
}

func TestTeacherResult_Unredacted(t *testing.T) {
	s := evaluatedSession()
	res := TeacherResult(s)
	assert.Equal(t, "expected 4", res.Breakdown.Sections[0].Questions[0].TestResults[1].Detail)
}

// ─── Auth ───────────────────────────────────────────────────────────

func TestAuthService_IssueAndValidate(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)

	token, err := svc.IssueToken(42, RoleStudent)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, 42, claims.UserID)
	assert.Equal(t, RoleStudent, claims.Role)
}

func TestAuthService_RejectsUnknownRole(t *testing.T) {
	_, err := NewAuthService("secret", time.Hour).IssueToken(1, Role("admin"))
	assert.Error(t, err)
}

func TestAuthService_RejectsWrongSecret(t *testing.T) {
	token, err := NewAuthService("one", time.Hour).IssueToken(1, RoleTeacher)
	require.NoError(t, err)

	_, err = NewAuthService("two", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthService_RejectsExpired(t *testing.T) {
	svc := NewAuthService("secret", time.Minute)
	token, err := svc.IssueToken(1, RoleTeacher)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestAuthService_RejectsMissingUser(t *testing.T) {
	svc := NewAuthService("secret", time.Hour)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             RoleStudent,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// ─── Proctor helpers ────────────────────────────────────────────────

func TestCameraReason(t *testing.T) {
	assert.Equal(t, "permission_denied", cameraReason(nil))
	assert.Equal(t, "permission_denied", cameraReason(json.RawMessage(`{}`)))
	assert.Equal(t, "device_lost", cameraReason(json.RawMessage(`{"reason":"device_lost"}`)))
}

func TestNewMonitorUpdate_CarriesCounters(t *testing.T) {
	s := &model.Session{ID: uuid.New(), StudentID: 9, Status: model.SessionStarted, FaceViolations: 2, TabSwitchCount: 1}
	at := time.Now()

	u := NewMonitorUpdate(UpdateStarted, s, nil, at)
	assert.Equal(t, UpdateStarted, u.Type)
	assert.Equal(t, s.ID, u.SessionID)
	assert.Equal(t, 2, u.FaceViolations)
	assert.Equal(t, 1, u.TabSwitchCount)
	assert.Nil(t, u.Event)
}

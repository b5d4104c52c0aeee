package grading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gradedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// echoSandbox passes a test case when the submitted source contains the
// expected output, so tests can steer verdicts per case.
type echoSandbox struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *echoSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := "nope"
	if strings.Contains(req.Source, strings.TrimSpace(req.Stdin)) {
		out = strings.TrimSpace(req.Stdin) + "   \n\n"
	}
	return &ExecutionResult{Stdout: out, Elapsed: 5 * time.Millisecond, Status: ExecOK}, nil
}

type hangingSandbox struct{}

func (hangingSandbox) Execute(ctx context.Context, _ ExecutionRequest) (*ExecutionResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type statusSandbox struct {
	result ExecutionResult
}

func (s statusSandbox) Execute(context.Context, ExecutionRequest) (*ExecutionResult, error) {
	r := s.result
	return &r, nil
}

func newEngine(sb Sandbox) *Engine {
	return NewEngine(sb, Config{Concurrency: 2, Grace: 20 * time.Millisecond}, func() time.Time { return gradedAt }, zerolog.Nop())
}

func singleChoiceAssessment(marks, negative float64) (*model.Assessment, uuid.UUID) {
	qid := uuid.New()
	return &model.Assessment{
		ID:              uuid.New(),
		DurationMinutes: 60,
		Sections: []model.Section{{
			ID:               uuid.New(),
			Type:             model.SectionSingleChoice,
			MarksPerQuestion: marks,
			NegativeMarking:  negative,
			SectionOrder:     1,
			Questions: []model.Question{{
				ID:     qid,
				Choice: &model.ChoiceContent{Options: []string{"a", "b", "c", "d"}, CorrectAnswers: []int{2}},
			}},
		}},
	}, qid
}

func codingAssessment(marks float64, cases []model.TestCase, limitSeconds int) (*model.Assessment, uuid.UUID) {
	qid := uuid.New()
	return &model.Assessment{
		ID: uuid.New(),
		Sections: []model.Section{{
			ID:               uuid.New(),
			Type:             model.SectionCoding,
			MarksPerQuestion: marks,
			SectionOrder:     1,
			Questions: []model.Question{{
				ID: qid,
				Coding: &model.CodingContent{
					Language:         "python",
					TimeLimitSeconds: limitSeconds,
					MemoryLimitMB:    128,
					TestCases:        cases,
				},
			}},
		}},
	}, qid
}

func answer(qid uuid.UUID, v model.AnswerValue) map[uuid.UUID]model.AnswerRecord {
	return map[uuid.UUID]model.AnswerRecord{qid: {QuestionID: qid, Value: v}}
}

func TestSingleChoiceCorrectGetsFullMarks(t *testing.T) {
	a, qid := singleChoiceAssessment(10, 0.25)

	b, err := newEngine(nil).Grade(context.Background(), a, answer(qid, model.AnswerValue{Selected: []int{2}}))
	require.NoError(t, err)

	assert.Equal(t, 10.0, b.TotalScore)
	assert.Equal(t, 100.0, b.Percentage)
	assert.Equal(t, model.OutcomeCorrect, b.Sections[0].Questions[0].Outcome)
}

func TestSingleChoiceWrongIsFlooredPerSection(t *testing.T) {
	a, qid := singleChoiceAssessment(10, 0.25)

	b, err := newEngine(nil).Grade(context.Background(), a, answer(qid, model.AnswerValue{Selected: []int{0}}))
	require.NoError(t, err)

	sec := b.Sections[0]
	assert.Equal(t, -2.5, sec.RawScore)
	assert.Equal(t, 0.0, sec.Score)
	assert.Equal(t, -2.5, *sec.Questions[0].Score)
	assert.Equal(t, 0.0, b.TotalScore)
	assert.Equal(t, 0.0, b.Percentage)
}

func TestNegativeMarkingOffsetsWithinSection(t *testing.T) {
	a, q1 := singleChoiceAssessment(4, 0.5)
	q2 := uuid.New()
	a.Sections[0].Questions = append(a.Sections[0].Questions, model.Question{
		ID:     q2,
		Choice: &model.ChoiceContent{Options: []string{"x", "y"}, CorrectAnswers: []int{1}},
	})

	answers := map[uuid.UUID]model.AnswerRecord{
		q1: {Value: model.AnswerValue{Selected: []int{2}}},
		q2: {Value: model.AnswerValue{Selected: []int{0}}},
	}
	b, err := newEngine(nil).Grade(context.Background(), a, answers)
	require.NoError(t, err)

	assert.Equal(t, 2.0, b.TotalScore)
	assert.Equal(t, 25.0, b.Percentage)
}

func TestUnansweredScoresZeroWithoutPenalty(t *testing.T) {
	a, _ := singleChoiceAssessment(10, 1)

	b, err := newEngine(nil).Grade(context.Background(), a, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, b.Sections[0].RawScore)
	assert.Equal(t, model.OutcomeUnanswered, b.Sections[0].Questions[0].Outcome)
}

func TestMultiChoiceExactMatchOnly(t *testing.T) {
	qid := uuid.New()
	a := &model.Assessment{Sections: []model.Section{{
		ID:               uuid.New(),
		Type:             model.SectionMultiChoice,
		MarksPerQuestion: 5,
		NegativeMarking:  0.5,
		Questions: []model.Question{{
			ID:     qid,
			Choice: &model.ChoiceContent{Options: []string{"a", "b", "c", "d"}, CorrectAnswers: []int{0, 2, 3}},
		}},
	}}}

	tests := []struct {
		name     string
		selected []int
		want     float64
	}{
		{"exact in any order", []int{3, 0, 2}, 5},
		{"proper subset", []int{0, 2}, 0},
		{"superset", []int{0, 1, 2, 3}, 0},
		{"wrong is not penalized", []int{1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newEngine(nil).Grade(context.Background(), a, answer(qid, model.AnswerValue{Selected: tt.selected}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.TotalScore)
		})
	}
}

func TestFreeTextPendingExcludedFromDenominator(t *testing.T) {
	a, choiceID := singleChoiceAssessment(10, 0)
	textID := uuid.New()
	a.Sections = append(a.Sections, model.Section{
		ID:               uuid.New(),
		Type:             model.SectionFreeText,
		MarksPerQuestion: 10,
		SectionOrder:     2,
		Questions:        []model.Question{{ID: textID, FreeText: &model.FreeTextContent{}}},
	})

	answers := map[uuid.UUID]model.AnswerRecord{
		choiceID: {Value: model.AnswerValue{Selected: []int{2}}},
		textID:   {Value: model.AnswerValue{Text: "Goroutines are cheap."}},
	}
	b, err := newEngine(nil).Grade(context.Background(), a, answers)
	require.NoError(t, err)

	assert.Equal(t, 1, b.PendingReview)
	assert.Nil(t, b.Sections[1].Questions[0].Score)
	assert.Equal(t, 20.0, b.TotalMarks)
	assert.Equal(t, 10.0, b.GradedMarks)
	assert.Equal(t, 100.0, b.Percentage)

	require.NoError(t, ApplyReview(b, textID, 7))
	assert.Equal(t, 0, b.PendingReview)
	assert.Equal(t, 17.0, b.TotalScore)
	assert.Equal(t, 85.0, b.Percentage)

	require.NoError(t, ApplyReview(b, textID, 99))
	assert.Equal(t, 10.0, *b.Sections[1].Questions[0].Score, "review score is clamped to marks")
	assert.Error(t, ApplyReview(b, choiceID, 1))
}

func TestFreeTextManualScoreFromRecord(t *testing.T) {
	qid := uuid.New()
	score := 3.5
	a := &model.Assessment{Sections: []model.Section{{
		Type:             model.SectionFreeText,
		MarksPerQuestion: 5,
		Questions:        []model.Question{{ID: qid}},
	}}}

	b, err := newEngine(nil).Grade(context.Background(), a, map[uuid.UUID]model.AnswerRecord{
		qid: {Value: model.AnswerValue{Text: "answer"}, ManualScore: &score},
	})
	require.NoError(t, err)

	assert.Equal(t, 3.5, b.TotalScore)
	assert.Equal(t, 70.0, b.Percentage)
	assert.Equal(t, model.OutcomeReviewed, b.Sections[0].Questions[0].Outcome)
}

func TestCodingTwoOfThreeEqualWeightCases(t *testing.T) {
	cases := []model.TestCase{
		{Input: "alpha", ExpectedOutput: "alpha", Points: 1},
		{Input: "beta", ExpectedOutput: "beta", Points: 1, IsHidden: true},
		{Input: "gamma", ExpectedOutput: "gamma", Points: 1},
	}
	a, qid := codingAssessment(9, cases, 2)
	sb := &echoSandbox{}

	b, err := newEngine(sb).Grade(context.Background(), a, answer(qid, model.AnswerValue{Code: "print('alpha beta')"}))
	require.NoError(t, err)

	qs := b.Sections[0].Questions[0]
	assert.Equal(t, 6.0, *qs.Score)
	assert.Equal(t, model.OutcomePartial, qs.Outcome)
	require.Len(t, qs.TestResults, 3)
	assert.Equal(t, model.TestPassed, qs.TestResults[0].Status)
	assert.True(t, qs.TestResults[1].Hidden)
	assert.Equal(t, model.TestWrongAnswer, qs.TestResults[2].Status)
	assert.Equal(t, 3, sb.calls)
}

func TestCodingWeightedPoints(t *testing.T) {
	cases := []model.TestCase{
		{Input: "one", ExpectedOutput: "one", Points: 3},
		{Input: "two", ExpectedOutput: "two", Points: 1},
	}
	a, qid := codingAssessment(10, cases, 2)

	b, err := newEngine(&echoSandbox{}).Grade(context.Background(), a, answer(qid, model.AnswerValue{Code: "one"}))
	require.NoError(t, err)

	assert.Equal(t, 7.5, b.TotalScore)
}

func TestCodingSandboxUnavailableAbortsPass(t *testing.T) {
	a, qid := codingAssessment(10, []model.TestCase{{Input: "x", ExpectedOutput: "x", Points: 1}}, 2)
	sb := &echoSandbox{err: fmt.Errorf("dial: %w", ErrSandboxUnavailable)}

	_, err := newEngine(sb).Grade(context.Background(), a, answer(qid, model.AnswerValue{Code: "x"}))
	assert.ErrorIs(t, err, ErrSandboxUnavailable)
}

func TestCodingHungExecutionIsFailedCase(t *testing.T) {
	a, qid := codingAssessment(10, []model.TestCase{
		{Input: "x", ExpectedOutput: "x", Points: 1},
		{Input: "y", ExpectedOutput: "y", Points: 1},
	}, 1)

	start := time.Now()
	b, err := newEngine(hangingSandbox{}).Grade(context.Background(), a, answer(qid, model.AnswerValue{Code: "while True: pass"}))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second)
	qs := b.Sections[0].Questions[0]
	assert.Equal(t, 0.0, *qs.Score)
	for _, r := range qs.TestResults {
		assert.Equal(t, model.TestTimeout, r.Status)
	}
}

func TestCodingSandboxVerdictsAreFailedCases(t *testing.T) {
	tests := []struct {
		name   string
		result ExecutionResult
		want   model.TestCaseStatus
	}{
		{"non-zero exit", ExecutionResult{Stdout: "x", ExitCode: 1, Status: ExecOK}, model.TestRuntimeError},
		{"runtime error", ExecutionResult{Status: ExecRuntimeError, ExitCode: 139}, model.TestRuntimeError},
		{"memory", ExecutionResult{Status: ExecMemoryLimit}, model.TestMemoryLimit},
		{"compile", ExecutionResult{Status: ExecCompileError, Stderr: "syntax"}, model.TestCompileError},
		{"timeout", ExecutionResult{Status: ExecTimeout}, model.TestTimeout},
		{"over limit", ExecutionResult{Stdout: "x", Elapsed: 5 * time.Second, Status: ExecOK}, model.TestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, qid := codingAssessment(10, []model.TestCase{{Input: "", ExpectedOutput: "x", Points: 1}}, 2)
			b, err := newEngine(statusSandbox{result: tt.result}).Grade(context.Background(), a, answer(qid, model.AnswerValue{Code: "src"}))
			require.NoError(t, err)
			qs := b.Sections[0].Questions[0]
			assert.Equal(t, tt.want, qs.TestResults[0].Status)
			assert.Equal(t, 0.0, *qs.Score)
		})
	}
}

func TestGradingIsIdempotent(t *testing.T) {
	a, qid := singleChoiceAssessment(10, 0.25)
	answers := answer(qid, model.AnswerValue{Selected: []int{1}})
	e := newEngine(nil)

	first, err := e.Grade(context.Background(), a, answers)
	require.NoError(t, err)
	second, err := e.Grade(context.Background(), a, answers)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestOutputsMatch(t *testing.T) {
	assert.True(t, OutputsMatch("1 2 3  \n4\n\n", "1 2 3\n4"))
	assert.True(t, OutputsMatch("a\r\nb\r\n", "a\nb\n"))
	assert.False(t, OutputsMatch(" a", "a"))
	assert.False(t, OutputsMatch("a\n\nb", "a\nb"))
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/clock"
	"github.com/stemsi/examguard-backend/internal/grading"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memStore
	clk       *clock.Fake
	a         *model.Assessment
	m         *Machine
	submitted atomic.Int32
	evaluated atomic.Int32
}

// Choice section (2 questions × 2 marks, 0.25 negative) followed by a
// free-text section (1 question × 10 marks). 60 minute duration.
func newAssessment() *model.Assessment {
	start, end := epoch.Add(-time.Hour), epoch.Add(3*time.Hour)
	id := uuid.New()
	choice := func() model.Question {
		return model.Question{
			ID:     uuid.New(),
			Choice: &model.ChoiceContent{Options: []string{"a", "b", "c", "d"}, CorrectAnswers: []int{1}},
		}
	}
	return &model.Assessment{
		ID:              id,
		Title:           "Midterm",
		TotalMarks:      14,
		DurationMinutes: 60,
		StartTime:       &start,
		EndTime:         &end,
		IsPublished:     true,
		Sections: []model.Section{
			{
				ID: uuid.New(), AssessmentID: id, Type: model.SectionSingleChoice,
				MarksPerQuestion: 2, NegativeMarking: 0.25, SectionOrder: 1,
				Questions: []model.Question{choice(), choice()},
			},
			{
				ID: uuid.New(), AssessmentID: id, Type: model.SectionFreeText,
				MarksPerQuestion: 10, SectionOrder: 2,
				Questions: []model.Question{{ID: uuid.New(), FreeText: &model.FreeTextContent{}}},
			},
		},
	}
}

func newFixture(t *testing.T, edit ...func(*model.Assessment)) *fixture {
	t.Helper()
	a := newAssessment()
	for _, fn := range edit {
		fn(a)
	}
	f := &fixture{store: newMemStore(a), clk: clock.NewFake(epoch), a: a}
	f.m = f.newMachine(t, engineFor(f.clk))
	return f
}

func (f *fixture) newMachine(t *testing.T, g Grader) *Machine {
	t.Helper()
	hooks := Hooks{
		OnSubmitted: func(*model.Session) { f.submitted.Add(1) },
		OnEvaluated: func(*model.Session) { f.evaluated.Add(1) },
	}
	m := NewMachine(f.store, g, f.clk, hooks, Config{}, zerolog.Nop())
	t.Cleanup(m.Close)
	return m
}

func engineFor(clk clock.Clock) *grading.Engine {
	return grading.NewEngine(nil, grading.Config{}, clk.Now, zerolog.Nop())
}

func (f *fixture) enroll(t *testing.T, studentID int) uuid.UUID {
	t.Helper()
	res, err := f.m.Enroll(context.Background(), f.a.ID, studentID)
	require.NoError(t, err)
	return res.Session.ID
}

func (f *fixture) started(t *testing.T, studentID int) uuid.UUID {
	t.Helper()
	id := f.enroll(t, studentID)
	res, err := f.m.Start(context.Background(), id)
	require.NoError(t, err)
	require.True(t, res.Applied)
	return id
}

func (f *fixture) session(t *testing.T, id uuid.UUID) *model.Session {
	t.Helper()
	s, err := f.store.GetSession(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (f *fixture) waitStatus(t *testing.T, id uuid.UUID, want model.SessionStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return f.store.status(id) == want }, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) choiceQ(i int) uuid.UUID { return f.a.Sections[0].Questions[i].ID }
func (f *fixture) freeQ() uuid.UUID       { return f.a.Sections[1].Questions[0].ID }

type failingGrader struct{}

func (failingGrader) Grade(context.Context, *model.Assessment, map[uuid.UUID]model.AnswerRecord) (*model.ScoreBreakdown, error) {
	return nil, grading.ErrSandboxUnavailable
}

func TestEnroll_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.m.Enroll(ctx, f.a.ID, 42)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, model.SessionEnrolled, first.Session.Status)

	second, err := f.m.Enroll(ctx, f.a.ID, 42)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, 1, f.store.sessionCount())
}

func TestEnroll_Unpublished(t *testing.T) {
	f := newFixture(t, func(a *model.Assessment) { a.IsPublished = false })

	_, err := f.m.Enroll(context.Background(), f.a.ID, 1)
	assert.ErrorIs(t, err, ErrAssessmentNotPublished)
	assert.Equal(t, 0, f.store.sessionCount())
}

func TestStart_OutsideWindow(t *testing.T) {
	tests := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"before start", epoch.Add(time.Minute), epoch.Add(2 * time.Hour)},
		{"at end", epoch.Add(-2 * time.Hour), epoch},
		{"after end", epoch.Add(-2 * time.Hour), epoch.Add(-time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(a *model.Assessment) {
				a.StartTime, a.EndTime = &tt.start, &tt.end
			})
			id := f.enroll(t, 1)

			_, err := f.m.Start(context.Background(), id)
			assert.ErrorIs(t, err, ErrOutsideWindow)
			assert.Equal(t, model.SessionEnrolled, f.store.status(id))
		})
	}
}

func TestStart_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Start(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, IsRetryable(err))
}

func TestStart_AgainResumes(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(10 * time.Minute))
	res, err := f.m.Start(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.SessionStarted, res.Session.Status)
	assert.Equal(t, epoch, *res.Session.StartedAt)
	assert.Contains(t, f.store.eventTypes(id), model.EventSessionResumed)
}

func TestState_ReloadRecomputesRemaining(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(40 * time.Minute))

	st, err := f.m.State(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStarted, st.Status)
	assert.InDelta(t, 20*60, st.RemainingSeconds, 0.001)
	assert.Equal(t, 40*60, st.ElapsedSeconds)
	assert.Equal(t, epoch.Add(time.Hour), *st.Deadline)

	// A fresh process sees the same value from stored instants alone.
	restarted := f.newMachine(t, engineFor(f.clk))
	st, err = restarted.State(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 20*60, st.RemainingSeconds, 0.001)
}

func TestState_Enrolled(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t, 1)

	st, err := f.m.State(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.SessionEnrolled, st.Status)
	assert.InDelta(t, 3600, st.RemainingSeconds, 0.001)
	assert.Nil(t, st.Deadline)
}

func TestExpiry_ForcesTimeoutSubmit(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Advance(time.Hour)
	f.waitStatus(t, id, model.SessionSubmitted)

	s := f.session(t, id)
	assert.Equal(t, model.SubmitTimeout, s.SubmitReason)
	assert.Equal(t, epoch.Add(time.Hour), *s.SubmittedAt)
	assert.Equal(t, 3600, s.TimeSpentSeconds)
	require.Eventually(t, func() bool { return f.submitted.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, f.store.eventTypes(id), model.EventForcedSubmit)
}

func TestExpiry_WindowEndUsesDeadlineReason(t *testing.T) {
	end := epoch.Add(30 * time.Minute)
	f := newFixture(t, func(a *model.Assessment) { a.EndTime = &end })
	id := f.started(t, 1)

	st, err := f.m.State(context.Background(), id)
	require.NoError(t, err)
	assert.InDelta(t, 30*60, st.RemainingSeconds, 0.001)

	f.clk.Advance(30 * time.Minute)
	f.waitStatus(t, id, model.SessionSubmitted)

	s := f.session(t, id)
	assert.Equal(t, model.SubmitDeadline, s.SubmitReason)
	assert.Equal(t, end, *s.SubmittedAt)
}

func TestDeadline(t *testing.T) {
	start := epoch
	early, late := epoch.Add(30*time.Minute), epoch.Add(2*time.Hour)

	tests := []struct {
		name       string
		end        *time.Time
		allowLate  bool
		wantAt     time.Time
		wantReason model.SubmitReason
	}{
		{"duration only", nil, false, epoch.Add(time.Hour), model.SubmitTimeout},
		{"window after duration", &late, false, epoch.Add(time.Hour), model.SubmitTimeout},
		{"window before duration", &early, false, early, model.SubmitDeadline},
		{"late allowed ignores window", &early, true, epoch.Add(time.Hour), model.SubmitTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &model.Assessment{DurationMinutes: 60, EndTime: tt.end, AllowLateSubmission: tt.allowLate}
			at, reason, ok := Deadline(a, &model.Session{StartedAt: &start})
			require.True(t, ok)
			assert.Equal(t, tt.wantAt, at)
			assert.Equal(t, tt.wantReason, reason)
		})
	}

	_, _, ok := Deadline(&model.Assessment{DurationMinutes: 60}, &model.Session{})
	assert.False(t, ok)
}

func TestSubmit_ManualThenExpiry(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(30 * time.Minute))
	res, err := f.m.Submit(context.Background(), id, model.SubmitManual)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 0, f.clk.Pending())

	f.clk.Advance(time.Hour)
	s := f.session(t, id)
	assert.Equal(t, model.SubmitManual, s.SubmitReason)
	assert.Equal(t, 1800, s.TimeSpentSeconds)
	assert.Equal(t, int32(1), f.submitted.Load())
	assert.NotContains(t, f.store.eventTypes(id), model.EventForcedSubmit)
}

func TestSubmit_ExpiryThenManual(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Advance(time.Hour)
	f.waitStatus(t, id, model.SessionSubmitted)

	res, err := f.m.Submit(context.Background(), id, model.SubmitManual)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.SubmitTimeout, res.Session.SubmitReason)
	require.Eventually(t, func() bool { return f.submitted.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubmit_ConcurrentAppliesOnce(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.m.Submit(context.Background(), id, model.SubmitManual)
			if err == nil && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(1), f.submitted.Load())
}

func TestSubmit_PastDeadlineIsForced(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	// The timer never fires; the next action still sees the deadline.
	f.clk.Set(epoch.Add(61 * time.Minute))

	res, err := f.m.Submit(context.Background(), id, model.SubmitManual)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.SessionSubmitted, res.Session.Status)
	assert.Equal(t, model.SubmitTimeout, res.Session.SubmitReason)
	assert.Equal(t, epoch.Add(time.Hour), *res.Session.SubmittedAt)
}

func TestSaveAnswer_PastDeadlineFrozen(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(61 * time.Minute))

	_, err := f.m.SaveAnswer(context.Background(), id, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, f.clk.Now())
	assert.ErrorIs(t, err, ErrAnswersFrozen)

	s := f.session(t, id)
	assert.Equal(t, model.SessionSubmitted, s.Status)
	assert.Equal(t, epoch.Add(time.Hour), *s.SubmittedAt)

	answers, err := f.store.ListAnswers(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestSaveAnswer_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)
	ctx := context.Background()
	q := f.choiceQ(0)

	f.clk.Set(epoch.Add(5 * time.Minute))

	res, err := f.m.SaveAnswer(ctx, id, q, model.AnswerValue{Selected: []int{0}}, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	res, err = f.m.SaveAnswer(ctx, id, q, model.AnswerValue{Selected: []int{2}}, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	st, err := f.m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, st.Answers[q].Value.Selected)

	// A future client timestamp is clamped to the server clock.
	res, err = f.m.SaveAnswer(ctx, id, q, model.AnswerValue{Selected: []int{3}}, epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	st, err = f.m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, st.Answers[q].Value.Selected)
	assert.Equal(t, epoch.Add(5*time.Minute), st.Answers[q].ClientTimestamp)

	_, err = f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	_, err = f.m.SaveAnswer(ctx, id, q, model.AnswerValue{Selected: []int{1}}, f.clk.Now())
	assert.ErrorIs(t, err, ErrAnswersFrozen)
}

func TestSaveAnswer_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrolled := f.enroll(t, 2)
	_, err := f.m.SaveAnswer(ctx, enrolled, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, epoch)
	assert.ErrorIs(t, err, ErrNotStarted)

	id := f.started(t, 1)
	tests := []struct {
		name  string
		q     uuid.UUID
		value model.AnswerValue
		want  error
	}{
		{"unknown question", uuid.New(), model.AnswerValue{Selected: []int{0}}, ErrUnknownQuestion},
		{"two options on single choice", f.choiceQ(0), model.AnswerValue{Selected: []int{0, 1}}, ErrInvalidAnswer},
		{"option out of range", f.choiceQ(0), model.AnswerValue{Selected: []int{4}}, ErrInvalidAnswer},
		{"negative option", f.choiceQ(1), model.AnswerValue{Selected: []int{-1}}, ErrInvalidAnswer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.SaveAnswer(ctx, id, tt.q, tt.value, epoch)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecordEvent_Counters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrolled := f.enroll(t, 2)
	err := f.m.RecordEvent(ctx, model.MonitoringEvent{SessionID: enrolled, Type: model.EventTabSwitch})
	assert.ErrorIs(t, err, ErrEventsClosed)

	id := f.started(t, 1)
	for _, typ := range []model.EventType{
		model.EventTabSwitch, model.EventTabSwitch, model.EventCopyPaste,
		model.EventFaceNotDetected, model.EventFaceNotDetected,
	} {
		require.NoError(t, f.m.RecordEvent(ctx, model.MonitoringEvent{SessionID: id, Type: typ}))
	}

	st, err := f.m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TabSwitchCount)
	assert.Equal(t, 1, st.CopyPasteAttempts)
	assert.Equal(t, 2, st.FaceViolations)
	assert.False(t, st.FaceWarning)

	require.NoError(t, f.m.RecordEvent(ctx, model.MonitoringEvent{SessionID: id, Type: model.EventFaceNotDetected}))
	st, err = f.m.State(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.FaceWarning)

	// Accepted after submission for the audit trail.
	_, err = f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)
	require.NoError(t, f.m.RecordEvent(ctx, model.MonitoringEvent{SessionID: id, Type: model.EventTabSwitch}))
	assert.Equal(t, 3, f.session(t, id).TabSwitchCount)

	_, err = f.m.Evaluate(ctx, id)
	require.NoError(t, err)
	err = f.m.RecordEvent(ctx, model.MonitoringEvent{SessionID: id, Type: model.EventTabSwitch})
	assert.ErrorIs(t, err, ErrEventsClosed)
}

func TestTransitions_NeverGoBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)

	_, err := f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	res, err := f.m.Start(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.SessionSubmitted, res.Session.Status)

	res, err = f.m.Evaluate(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	for _, try := range []func() (Result, error){
		func() (Result, error) { return f.m.Start(ctx, id) },
		func() (Result, error) { return f.m.Submit(ctx, id, model.SubmitManual) },
		func() (Result, error) { return f.m.Evaluate(ctx, id) },
	} {
		res, err := try()
		require.NoError(t, err)
		assert.False(t, res.Applied)
		assert.Equal(t, model.SessionEvaluated, f.store.status(id))
	}
	assert.Equal(t, int32(1), f.evaluated.Load())
}

func TestEvaluate_ScoresChoiceAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)

	_, err := f.m.SaveAnswer(ctx, id, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, epoch)
	require.NoError(t, err)
	_, err = f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	res, err := f.m.Evaluate(ctx, id)
	require.NoError(t, err)
	require.True(t, res.Applied)
	assert.Equal(t, model.SessionEvaluated, res.Session.Status)
	require.NotNil(t, res.Session.TotalScore)
	assert.InDelta(t, 2.0, *res.Session.TotalScore, 0.001)
	assert.Equal(t, 0, res.Session.PendingReview)

	stored := f.session(t, id)
	require.NotNil(t, stored.Breakdown)
	assert.InDelta(t, 2.0, stored.Breakdown.TotalScore, 0.001)
}

func TestEvaluate_NotSubmittedIsNoOp(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	res, err := f.m.Evaluate(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, model.SessionStarted, f.store.status(id))
}

func TestEvaluate_GraderFailureKeepsSubmitted(t *testing.T) {
	f := newFixture(t)
	m := f.newMachine(t, failingGrader{})
	ctx := context.Background()

	res, err := m.Enroll(ctx, f.a.ID, 1)
	require.NoError(t, err)
	id := res.Session.ID
	_, err = m.Start(ctx, id)
	require.NoError(t, err)
	_, err = m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	_, err = m.Evaluate(ctx, id)
	assert.ErrorIs(t, err, grading.ErrSandboxUnavailable)
	assert.Equal(t, model.SessionSubmitted, f.store.status(id))
}

func TestSubmit_PersistenceFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)

	f.store.failOnce("mark_submitted", errors.New("connection reset"))

	_, err := f.m.Submit(ctx, id, model.SubmitManual)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "mark_submitted", pe.Op)
	assert.Equal(t, model.SessionStarted, f.store.status(id))
	assert.Equal(t, int32(0), f.submitted.Load())

	res, err := f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestReviewAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)

	_, err := f.m.SaveAnswer(ctx, id, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, epoch)
	require.NoError(t, err)
	_, err = f.m.SaveAnswer(ctx, id, f.freeQ(), model.AnswerValue{Text: "photosynthesis converts light"}, epoch)
	require.NoError(t, err)

	_, err = f.m.ReviewAnswer(ctx, id, f.freeQ(), 5, 7)
	assert.ErrorIs(t, err, ErrNotSubmitted)

	_, err = f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)
	res, err := f.m.Evaluate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Session.PendingReview)
	assert.InDelta(t, 2.0, *res.Session.TotalScore, 0.001)

	_, err = f.m.ReviewAnswer(ctx, id, f.choiceQ(0), 1, 7)
	assert.ErrorIs(t, err, ErrNotReviewable)

	// Scores above the question marks are clamped.
	res, err = f.m.ReviewAnswer(ctx, id, f.freeQ(), 12, 7)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 0, res.Session.PendingReview)
	assert.InDelta(t, 12.0, *res.Session.TotalScore, 0.001)

	stored := f.session(t, id)
	assert.Equal(t, model.SessionEvaluated, stored.Status)
	assert.InDelta(t, 12.0, *stored.TotalScore, 0.001)

	answers, err := f.store.ListAnswers(ctx, id)
	require.NoError(t, err)
	for _, rec := range answers {
		if rec.QuestionID == f.freeQ() {
			require.NotNil(t, rec.ManualScore)
			assert.InDelta(t, 10.0, *rec.ManualScore, 0.001)
			assert.Equal(t, 7, *rec.ReviewedBy)
		}
	}
}

func TestReviewAnswer_Unanswered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)
	_, err := f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	_, err = f.m.ReviewAnswer(ctx, id, f.freeQ(), 5, 7)
	assert.ErrorIs(t, err, ErrNotReviewable)
}

func TestTimeSpent(t *testing.T) {
	a := &model.Assessment{DurationMinutes: 60}
	start := epoch

	assert.Equal(t, 600, timeSpent(a, &model.Session{StartedAt: &start}, epoch.Add(10*time.Minute)))
	assert.Equal(t, 3600, timeSpent(a, &model.Session{StartedAt: &start}, epoch.Add(90*time.Minute)))
	assert.Equal(t, 900, timeSpent(a, &model.Session{StartedAt: &start, TimeSpentSeconds: 900}, epoch.Add(10*time.Minute)))
	assert.Equal(t, 0, timeSpent(a, &model.Session{StartedAt: &start}, epoch.Add(-time.Minute)))
	assert.Equal(t, 120, timeSpent(a, &model.Session{TimeSpentSeconds: 120}, epoch))
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.started(t, 1)
	f.clk.Set(epoch.Add(30 * time.Minute))
	later := f.started(t, 2)

	f.clk.Set(epoch.Add(61 * time.Minute))
	n, err := f.m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := f.session(t, early)
	assert.Equal(t, model.SessionSubmitted, s.Status)
	assert.Equal(t, model.SubmitTimeout, s.SubmitReason)
	assert.Equal(t, epoch.Add(time.Hour), *s.SubmittedAt)
	assert.Equal(t, model.SessionStarted, f.store.status(later))

	n, err = f.m.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestResume_AfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.started(t, 1)
	f.clk.Set(epoch.Add(30 * time.Minute))
	later := f.started(t, 2)
	f.m.Close()

	f.clk.Set(epoch.Add(70 * time.Minute))
	restarted := f.newMachine(t, engineFor(f.clk))

	n, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s := f.session(t, early)
	assert.Equal(t, model.SessionSubmitted, s.Status)
	assert.Equal(t, epoch.Add(time.Hour), *s.SubmittedAt)
	assert.Equal(t, model.SessionStarted, f.store.status(later))

	f.clk.Advance(20 * time.Minute)
	f.waitStatus(t, later, model.SessionSubmitted)
	assert.Equal(t, epoch.Add(90*time.Minute), *f.session(t, later).SubmittedAt)
}

func TestNavigate_SectionTimer(t *testing.T) {
	limit := 10
	f := newFixture(t, func(a *model.Assessment) { a.Sections[0].TimeLimitMinutes = &limit })
	ctx := context.Background()
	id := f.started(t, 1)

	st, err := f.m.State(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.SectionRemaining)
	assert.InDelta(t, 600, *st.SectionRemaining, 0.001)

	f.clk.Set(epoch.Add(4 * time.Minute))
	res, err := f.m.Navigate(ctx, id, 1, 2)
	require.NoError(t, err)
	assert.True(t, res.Applied)

	st, err = f.m.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CurrentQuestion)
	assert.InDelta(t, 360, *st.SectionRemaining, 0.001)

	_, err = f.m.Navigate(ctx, id, 2, 1)
	require.NoError(t, err)
	st, err = f.m.State(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, st.SectionRemaining)

	_, err = f.m.Navigate(ctx, id, 3, 1)
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, err = f.m.Navigate(ctx, id, 1, 5)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	// An exhausted section limit never submits.
	f.clk.Advance(15 * time.Minute)
	assert.Equal(t, model.SessionStarted, f.store.status(id))
}

func TestClose_RejectsNewWork(t *testing.T) {
	f := newFixture(t)
	id := f.started(t, 1)

	f.m.Close()
	_, err := f.m.Submit(context.Background(), id, model.SubmitManual)
	assert.ErrorIs(t, err, ErrMachineClosed)
	assert.Equal(t, 0, f.clk.Pending())
}

func (f *fixture) position(t *testing.T, id uuid.UUID) (int, int) {
	t.Helper()
	s := f.session(t, id)
	return s.CurrentSection, s.CurrentQuestion
}

func (f *fixture) waitPosition(t *testing.T, id uuid.UUID, section, question int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, q := f.position(t, id)
		return s == section && q == question
	}, 2*time.Second, 5*time.Millisecond)
}

func withSectionLimit(minutes int) func(*model.Assessment) {
	return func(a *model.Assessment) { a.Sections[0].TimeLimitMinutes = &minutes }
}

// withCodingSection appends a third section of two coding questions, each
// with a 60 second solve limit.
func withCodingSection(a *model.Assessment) {
	coding := func() model.Question {
		return model.Question{
			ID:     uuid.New(),
			Coding: &model.CodingContent{Language: "python", TimeLimitSeconds: 60},
		}
	}
	a.Sections = append(a.Sections, model.Section{
		ID: uuid.New(), AssessmentID: a.ID, Type: model.SectionCoding,
		MarksPerQuestion: 5, SectionOrder: 3,
		Questions: []model.Question{coding(), coding()},
	})
}

func TestSectionLimit_ExpiryMovesToNextSection(t *testing.T) {
	f := newFixture(t, withSectionLimit(10))
	id := f.started(t, 1)

	f.clk.Advance(11 * time.Minute)
	f.waitPosition(t, id, 2, 1)
	assert.Equal(t, model.SessionStarted, f.store.status(id))

	_, err := f.m.Navigate(context.Background(), id, 1, 1)
	assert.ErrorIs(t, err, ErrTimeLimitReached)
}

func TestSectionLimit_ReentryKeepsElapsedTime(t *testing.T) {
	f := newFixture(t, withSectionLimit(10))
	ctx := context.Background()
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(4 * time.Minute))
	_, err := f.m.Navigate(ctx, id, 2, 1)
	require.NoError(t, err)

	f.clk.Set(epoch.Add(8 * time.Minute))
	_, err = f.m.Navigate(ctx, id, 1, 2)
	require.NoError(t, err)

	st, err := f.m.State(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.SectionRemaining)
	assert.InDelta(t, 360, *st.SectionRemaining, 0.001)

	// Four minutes banked plus six more on this visit.
	f.clk.Advance(7 * time.Minute)
	f.waitPosition(t, id, 2, 1)
}

func TestSaveAnswer_SectionTimeUsedUp(t *testing.T) {
	f := newFixture(t, withSectionLimit(10))
	ctx := context.Background()
	id := f.started(t, 1)

	f.clk.Set(epoch.Add(11 * time.Minute))
	_, err := f.m.SaveAnswer(ctx, id, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, time.Time{})
	assert.ErrorIs(t, err, ErrTimeLimitReached)

	res, err := f.m.SaveAnswer(ctx, id, f.freeQ(), model.AnswerValue{Text: "still open"}, time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestCodingQuestionLimit(t *testing.T) {
	f := newFixture(t, withCodingSection)
	ctx := context.Background()
	id := f.started(t, 1)

	_, first, ok := f.a.QuestionAt(id, 3, 1)
	require.True(t, ok)
	_, second, ok := f.a.QuestionAt(id, 3, 2)
	require.True(t, ok)

	_, err := f.m.Navigate(ctx, id, 3, 1)
	require.NoError(t, err)
	st, err := f.m.State(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.QuestionRemaining)
	assert.InDelta(t, 60, *st.QuestionRemaining, 0.001)

	f.clk.Advance(61 * time.Second)
	f.waitPosition(t, id, 3, 2)

	_, err = f.m.SaveAnswer(ctx, id, first.ID, model.AnswerValue{Code: "print(1)"}, time.Time{})
	assert.ErrorIs(t, err, ErrTimeLimitReached)
	res, err := f.m.SaveAnswer(ctx, id, second.ID, model.AnswerValue{Code: "print(2)"}, time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	// The second question has its own full budget.
	st, err = f.m.State(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, st.QuestionRemaining)
	assert.InDelta(t, 60, *st.QuestionRemaining, 0.001)
}

func TestEvaluate_ConcurrentCommitsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.started(t, 1)

	_, err := f.m.SaveAnswer(ctx, id, f.choiceQ(0), model.AnswerValue{Selected: []int{1}}, epoch)
	require.NoError(t, err)
	_, err = f.m.Submit(ctx, id, model.SubmitManual)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.m.Evaluate(ctx, id)
			assert.NoError(t, err)
			if res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(1), f.evaluated.Load())
	assert.Equal(t, model.SessionEvaluated, f.store.status(id))
}

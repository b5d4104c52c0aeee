// Package grading scores a session's answers against an assessment definition.
//
// Choice questions are scored in memory. Coding questions are executed through a
// Sandbox, one call per test case, in parallel and bounded by the question's own
// time limit. Free-text questions stay pending until a reviewer assigns a score.
package grading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	defaultGrace       = time.Second
	defaultRunLimit    = 10 * time.Second
	maxStoredOutput    = 4096
)

// Config tunes sandbox fan-out.
type Config struct {
	Concurrency int
	Grace       time.Duration
}

// Engine is safe for concurrent use.
type Engine struct {
	sandbox Sandbox
	cfg     Config
	now     func() time.Time
	log     zerolog.Logger
}

// NewEngine creates a grading engine.
func NewEngine(sandbox Sandbox, cfg Config, now func() time.Time, log zerolog.Logger) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sandbox: sandbox,
		cfg:     cfg,
		now:     now,
		log:     log.With().Str("component", "grading_engine").Logger(),
	}
}

// Grade scores every question of a. answers is keyed by question id; missing
// entries are unanswered. The only error that aborts the pass is sandbox
// unavailability (or ctx cancellation).
func (e *Engine) Grade(ctx context.Context, a *model.Assessment, answers map[uuid.UUID]model.AnswerRecord) (*model.ScoreBreakdown, error) {
	out := &model.ScoreBreakdown{
		Sections: make([]model.SectionScore, 0, len(a.Sections)),
		GradedAt: e.now().UTC(),
	}

	for i := range a.Sections {
		sec := &a.Sections[i]
		ss := model.SectionScore{
			SectionID: sec.ID,
			Type:      sec.Type,
			MaxScore:  sec.MarksPerQuestion * float64(len(sec.Questions)),
			Questions: make([]model.QuestionScore, 0, len(sec.Questions)),
		}

		for j := range sec.Questions {
			q := &sec.Questions[j]
			ans, answered := answers[q.ID]

			var (
				qs  model.QuestionScore
				err error
			)
			switch sec.Type {
			case model.SectionSingleChoice:
				qs = scoreSingleChoice(sec, q, ans, answered)
			case model.SectionMultiChoice:
				qs = scoreMultiChoice(sec, q, ans, answered)
			case model.SectionFreeText:
				qs = scoreFreeText(sec, q, ans, answered)
			case model.SectionCoding:
				qs, err = e.scoreCoding(ctx, sec, q, ans, answered)
				if err != nil {
					return nil, fmt.Errorf("question %s: %w", q.ID, err)
				}
			default:
				return nil, fmt.Errorf("section %s: unknown section type %q", sec.ID, sec.Type)
			}

			ss.Questions = append(ss.Questions, qs)
		}

		out.Sections = append(out.Sections, ss)
	}

	Recompute(out)
	return out, nil
}

// ApplyReview sets a reviewer score on one free-text question and recomputes
// totals. Nothing is re-executed.
func ApplyReview(b *model.ScoreBreakdown, questionID uuid.UUID, score float64) error {
	for i := range b.Sections {
		for j := range b.Sections[i].Questions {
			qs := &b.Sections[i].Questions[j]
			if qs.QuestionID != questionID {
				continue
			}
			if b.Sections[i].Type != model.SectionFreeText {
				return fmt.Errorf("question %s is not free text", questionID)
			}
			v := clamp(score, 0, qs.MaxScore)
			qs.Score = &v
			qs.Outcome = model.OutcomeReviewed
			Recompute(b)
			return nil
		}
	}
	return fmt.Errorf("question %s not in breakdown", questionID)
}

// Recompute derives section and assessment totals from question scores.
// Pending questions are excluded from the percentage denominator.
func Recompute(b *model.ScoreBreakdown) {
	var total, totalMarks, pendingMarks float64
	pending := 0

	for i := range b.Sections {
		ss := &b.Sections[i]
		ss.RawScore = 0
		ss.PendingMax = 0
		for _, qs := range ss.Questions {
			if qs.Score == nil {
				ss.PendingMax += qs.MaxScore
				pending++
				continue
			}
			ss.RawScore += *qs.Score
		}
		ss.RawScore = round2(ss.RawScore)
		ss.Score = math.Max(0, ss.RawScore)

		total += ss.Score
		totalMarks += ss.MaxScore
		pendingMarks += ss.PendingMax
	}

	b.TotalScore = round2(total)
	b.TotalMarks = round2(totalMarks)
	b.GradedMarks = round2(totalMarks - pendingMarks)
	b.PendingReview = pending
	b.Percentage = 0
	if b.GradedMarks > 0 {
		b.Percentage = round2(b.TotalScore / b.GradedMarks * 100)
	}
}

func scoreSingleChoice(sec *model.Section, q *model.Question, ans model.AnswerRecord, answered bool) model.QuestionScore {
	qs := model.QuestionScore{QuestionID: q.ID, MaxScore: sec.MarksPerQuestion}
	if !answered || len(ans.Value.Selected) == 0 {
		return unanswered(qs)
	}

	var correct []int
	if q.Choice != nil {
		correct = q.Choice.CorrectAnswers
	}
	if len(correct) == 1 && len(ans.Value.Selected) == 1 && ans.Value.Selected[0] == correct[0] {
		return withScore(qs, model.OutcomeCorrect, sec.MarksPerQuestion)
	}
	return withScore(qs, model.OutcomeIncorrect, -sec.NegativeMarking*sec.MarksPerQuestion)
}

func scoreMultiChoice(sec *model.Section, q *model.Question, ans model.AnswerRecord, answered bool) model.QuestionScore {
	qs := model.QuestionScore{QuestionID: q.ID, MaxScore: sec.MarksPerQuestion}
	if !answered || len(ans.Value.Selected) == 0 {
		return unanswered(qs)
	}

	var correct []int
	if q.Choice != nil {
		correct = q.Choice.CorrectAnswers
	}
	if sameSet(ans.Value.Selected, correct) {
		return withScore(qs, model.OutcomeCorrect, sec.MarksPerQuestion)
	}
	return withScore(qs, model.OutcomeIncorrect, 0)
}

func scoreFreeText(sec *model.Section, q *model.Question, ans model.AnswerRecord, answered bool) model.QuestionScore {
	qs := model.QuestionScore{QuestionID: q.ID, MaxScore: sec.MarksPerQuestion}
	if answered && ans.ManualScore != nil {
		return withScore(qs, model.OutcomeReviewed, clamp(*ans.ManualScore, 0, sec.MarksPerQuestion))
	}
	if !answered || strings.TrimSpace(ans.Value.Text) == "" {
		return unanswered(qs)
	}
	qs.Outcome = model.OutcomePending
	return qs
}

func (e *Engine) scoreCoding(ctx context.Context, sec *model.Section, q *model.Question, ans model.AnswerRecord, answered bool) (model.QuestionScore, error) {
	qs := model.QuestionScore{QuestionID: q.ID, MaxScore: sec.MarksPerQuestion}
	if !answered || strings.TrimSpace(ans.Value.Code) == "" || q.Coding == nil {
		return unanswered(qs), nil
	}

	results, err := e.runTestCases(ctx, q.Coding, ans.Value.Code)
	if err != nil {
		return qs, err
	}
	qs.TestResults = results

	var passed, total float64
	for i, tc := range q.Coding.TestCases {
		total += tc.Points
		if results[i].Passed() {
			passed += tc.Points
		}
	}

	var score float64
	if total > 0 {
		score = sec.MarksPerQuestion * passed / total
	}

	outcome := model.OutcomePartial
	switch {
	case passed == 0:
		outcome = model.OutcomeIncorrect
	case passed == total:
		outcome = model.OutcomeCorrect
	}
	return withScore(qs, outcome, score), nil
}

func (e *Engine) runTestCases(ctx context.Context, coding *model.CodingContent, source string) ([]model.TestCaseResult, error) {
	results := make([]model.TestCaseResult, len(coding.TestCases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	for i, tc := range coding.TestCases {
		g.Go(func() error {
			res, err := e.runTestCase(gctx, coding, source, tc)
			if err != nil {
				return err
			}
			res.Index = i
			res.Points = tc.Points
			res.Hidden = tc.IsHidden
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) runTestCase(ctx context.Context, coding *model.CodingContent, source string, tc model.TestCase) (model.TestCaseResult, error) {
	limit := coding.TimeLimit()
	if limit <= 0 {
		limit = defaultRunLimit
	}

	runCtx, cancel := context.WithTimeout(ctx, limit+e.cfg.Grace)
	defer cancel()

	started := e.now()
	res, err := e.sandbox.Execute(runCtx, ExecutionRequest{
		Language:      coding.Language,
		Source:        source,
		Stdin:         tc.Input,
		TimeLimit:     limit,
		MemoryLimitMB: coding.MemoryLimitMB,
	})
	if err != nil {
		return e.classifyError(ctx, runCtx, err, limit, e.now().Sub(started))
	}

	out := model.TestCaseResult{
		Stdout:    truncate(res.Stdout, maxStoredOutput),
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	switch {
	case res.Status == ExecTimeout || res.Elapsed > limit:
		out.Status = model.TestTimeout
		out.Detail = (&ExecutionTimeoutError{Limit: limit}).Error()
	case res.Status == ExecMemoryLimit:
		out.Status = model.TestMemoryLimit
	case res.Status == ExecCompileError:
		out.Status = model.TestCompileError
		out.Detail = truncate(res.Stderr, maxStoredOutput)
	case res.Status == ExecRuntimeError || res.ExitCode != 0:
		out.Status = model.TestRuntimeError
		out.Detail = (&ExecutionRuntimeError{ExitCode: res.ExitCode, Stderr: res.Stderr}).Error()
	case OutputsMatch(res.Stdout, tc.ExpectedOutput):
		out.Status = model.TestPassed
	default:
		out.Status = model.TestWrongAnswer
	}
	return out, nil
}

// classifyError downgrades per-run failures to a failed test case. Only sandbox
// unavailability and cancellation of the whole pass propagate.
func (e *Engine) classifyError(parent, runCtx context.Context, err error, limit, elapsed time.Duration) (model.TestCaseResult, error) {
	if errors.Is(err, ErrSandboxUnavailable) {
		return model.TestCaseResult{}, err
	}
	if parent.Err() != nil {
		return model.TestCaseResult{}, parent.Err()
	}

	var timeoutErr *ExecutionTimeoutError
	var runtimeErr *ExecutionRuntimeError
	switch {
	case errors.As(err, &timeoutErr), errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return model.TestCaseResult{
			Status:    model.TestTimeout,
			ElapsedMS: elapsed.Milliseconds(),
			Detail:    (&ExecutionTimeoutError{Limit: limit}).Error(),
		}, nil
	case errors.As(err, &runtimeErr):
		return model.TestCaseResult{
			Status:    model.TestRuntimeError,
			ElapsedMS: elapsed.Milliseconds(),
			Detail:    runtimeErr.Error(),
		}, nil
	}

	e.log.Warn().Err(err).Msg("Unclassified sandbox error, counting test case as failed")
	return model.TestCaseResult{
		Status:    model.TestNotExecutable,
		ElapsedMS: elapsed.Milliseconds(),
		Detail:    err.Error(),
	}, nil
}

// OutputsMatch compares program output ignoring trailing whitespace on each
// line and trailing blank lines.
func OutputsMatch(got, want string) bool {
	return normalizeOutput(got) == normalizeOutput(want)
}

func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func sameSet(a, b []int) bool {
	as := dedupe(a)
	bs := dedupe(b)
	return len(as) > 0 && slices.Equal(as, bs)
}

func dedupe(v []int) []int {
	out := slices.Clone(v)
	slices.Sort(out)
	return slices.Compact(out)
}

func unanswered(qs model.QuestionScore) model.QuestionScore {
	return withScore(qs, model.OutcomeUnanswered, 0)
}

func withScore(qs model.QuestionScore, outcome model.QuestionOutcome, score float64) model.QuestionScore {
	v := round2(score)
	qs.Outcome = outcome
	qs.Score = &v
	return qs
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

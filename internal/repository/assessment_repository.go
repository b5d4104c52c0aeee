package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/session"
)

// ErrAlreadyPublished is returned when a write targets a published assessment.
var ErrAlreadyPublished = errors.New("assessment is published and immutable")

const assessmentColumns = `id, title, description, teacher_id, total_marks, duration_minutes,
	start_time, end_time, is_published, allow_late_submission, randomize_questions,
	show_results_immediately, face_detection_enabled, screen_recording_enabled,
	published_at, created_at, updated_at`

// questionContent is the typed JSONB payload of a question row.
type questionContent struct {
	Choice   *model.ChoiceContent   `json:"choice,omitempty"`
	FreeText *model.FreeTextContent `json:"free_text,omitempty"`
	Coding   *model.CodingContent   `json:"coding,omitempty"`
}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// AssessmentRepository handles assessment definitions.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// Create inserts a draft with all of its sections and questions in one transaction.
func (r *AssessmentRepository) Create(ctx context.Context, a *model.Assessment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO assessments (id, title, description, teacher_id, total_marks, duration_minutes,
			        start_time, end_time, allow_late_submission, randomize_questions,
			        show_results_immediately, face_detection_enabled, screen_recording_enabled,
			        created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
			a.ID, a.Title, a.Description, a.TeacherID, a.TotalMarks, a.DurationMinutes,
			a.StartTime, a.EndTime, a.AllowLateSubmission, a.RandomizeQuestions,
			a.ShowResultsImmediately, a.FaceDetectionEnabled, a.ScreenRecordingEnabled, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert assessment: %w", err)
		}
		return insertContent(ctx, tx, a)
	})
}

// Replace overwrites a draft's metadata and content. Published rows are never touched.
func (r *AssessmentRepository) Replace(ctx context.Context, a *model.Assessment) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var published bool
		err := tx.QueryRow(ctx,
			`SELECT is_published FROM assessments WHERE id = $1 FOR UPDATE`, a.ID,
		).Scan(&published)
		if err != nil {
			return notFound(err)
		}
		if published {
			return ErrAlreadyPublished
		}

		_, err = tx.Exec(ctx,
			`UPDATE assessments
			 SET title = $2, description = $3, total_marks = $4, duration_minutes = $5,
			     start_time = $6, end_time = $7, allow_late_submission = $8,
			     randomize_questions = $9, show_results_immediately = $10,
			     face_detection_enabled = $11, screen_recording_enabled = $12, updated_at = $13
			 WHERE id = $1`,
			a.ID, a.Title, a.Description, a.TotalMarks, a.DurationMinutes,
			a.StartTime, a.EndTime, a.AllowLateSubmission, a.RandomizeQuestions,
			a.ShowResultsImmediately, a.FaceDetectionEnabled, a.ScreenRecordingEnabled, a.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update assessment: %w", err)
		}

		// Questions go with their sections.
		if _, err := tx.Exec(ctx, `DELETE FROM assessment_sections WHERE assessment_id = $1`, a.ID); err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}
		return insertContent(ctx, tx, a)
	})
}

func insertContent(ctx context.Context, tx pgx.Tx, a *model.Assessment) error {
	sections := make([][]any, 0, len(a.Sections))
	var questions [][]any
	for _, s := range a.Sections {
		sections = append(sections, []any{
			s.ID, a.ID, s.Title, s.Description, string(s.Type), s.TimeLimitMinutes,
			s.MarksPerQuestion, s.NegativeMarking, s.SectionOrder,
		})
		for _, q := range s.Questions {
			questions = append(questions, []any{
				q.ID, s.ID, q.QuestionText, string(q.Difficulty), q.QuestionOrder,
				questionContent{Choice: q.Choice, FreeText: q.FreeText, Coding: q.Coding},
			})
		}
	}

	if len(sections) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"assessment_sections"},
			[]string{"id", "assessment_id", "title", "description", "section_type", "time_limit_minutes",
				"marks_per_question", "negative_marking", "section_order"},
			pgx.CopyFromRows(sections),
		)
		if err != nil {
			return fmt.Errorf("copy sections: %w", err)
		}
	}
	if len(questions) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"questions"},
			[]string{"id", "section_id", "question_text", "difficulty_level", "question_order", "content"},
			pgx.CopyFromRows(questions),
		)
		if err != nil {
			return fmt.Errorf("copy questions: %w", err)
		}
	}
	return nil
}

// Publish locks a draft, reloads its content under the row lock and runs
// check on that copy before flipping it to published. Replace takes the same
// lock, so the checked content is exactly the content that gets published.
func (r *AssessmentRepository) Publish(ctx context.Context, id uuid.UUID, at time.Time, check func(*model.Assessment) error) (*model.Assessment, error) {
	var published *model.Assessment
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := scanAssessment(tx.QueryRow(ctx,
			`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		if a.IsPublished {
			return ErrAlreadyPublished
		}
		if err := loadContent(ctx, tx, a); err != nil {
			return err
		}
		if check != nil {
			if err := check(a); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE assessments SET is_published = TRUE, published_at = $2, updated_at = $2
			 WHERE id = $1`, id, at); err != nil {
			return fmt.Errorf("publish assessment: %w", err)
		}
		a.IsPublished = true
		a.PublishedAt = &at
		a.UpdatedAt = at
		published = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return published, nil
}

// GetByID loads an assessment with its sections and questions in paper order.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, err := scanAssessment(r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if err := loadContent(ctx, r.pool, a); err != nil {
		return nil, err
	}
	return a, nil
}

func loadContent(ctx context.Context, db querier, a *model.Assessment) error {
	rows, err := db.Query(ctx,
		`SELECT id, title, description, section_type, time_limit_minutes,
		        marks_per_question, negative_marking, section_order
		 FROM assessment_sections WHERE assessment_id = $1
		 ORDER BY section_order`, a.ID)
	if err != nil {
		return err
	}
	sections, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Section, error) {
		s := model.Section{AssessmentID: a.ID}
		err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Type, &s.TimeLimitMinutes,
			&s.MarksPerQuestion, &s.NegativeMarking, &s.SectionOrder)
		return s, err
	})
	if err != nil {
		return fmt.Errorf("load sections: %w", err)
	}

	index := make(map[uuid.UUID]int, len(sections))
	for i := range sections {
		index[sections[i].ID] = i
	}

	rows, err = db.Query(ctx,
		`SELECT q.id, q.section_id, q.question_text, q.difficulty_level, q.question_order, q.content
		 FROM questions q
		 JOIN assessment_sections s ON s.id = q.section_id
		 WHERE s.assessment_id = $1
		 ORDER BY s.section_order, q.question_order`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.Question
			content questionContent
		)
		if err := rows.Scan(&q.ID, &q.SectionID, &q.QuestionText, &q.Difficulty, &q.QuestionOrder, &content); err != nil {
			return fmt.Errorf("scan question: %w", err)
		}
		q.Choice, q.FreeText, q.Coding = content.Choice, content.FreeText, content.Coding
		if i, ok := index[q.SectionID]; ok {
			sections[i].Questions = append(sections[i].Questions, q)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	a.Sections = sections
	return nil
}

// ListByTeacher returns the teacher's assessments without content, newest first.
func (r *AssessmentRepository) ListByTeacher(ctx context.Context, teacherID, limit, offset int) ([]model.Assessment, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assessments WHERE teacher_id = $1`, teacherID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments
		 WHERE teacher_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, teacherID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Assessment, error) {
		a, err := scanAssessment(row)
		if err != nil {
			return model.Assessment{}, err
		}
		return *a, nil
	})
	return list, total, err
}

// ListPublished returns every published assessment with content.
// Used for cache prewarming on startup.
func (r *AssessmentRepository) ListPublished(ctx context.Context) ([]*model.Assessment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE is_published ORDER BY published_at DESC`)
	if err != nil {
		return nil, err
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Assessment, error) {
		return scanAssessment(row)
	})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if err := loadContent(ctx, r.pool, a); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func scanAssessment(row pgx.Row) (*model.Assessment, error) {
	a := &model.Assessment{}
	err := row.Scan(&a.ID, &a.Title, &a.Description, &a.TeacherID, &a.TotalMarks, &a.DurationMinutes,
		&a.StartTime, &a.EndTime, &a.IsPublished, &a.AllowLateSubmission, &a.RandomizeQuestions,
		&a.ShowResultsImmediately, &a.FaceDetectionEnabled, &a.ScreenRecordingEnabled,
		&a.PublishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// notFound maps a missing row onto the shared sentinel.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrNotFound
	}
	return err
}

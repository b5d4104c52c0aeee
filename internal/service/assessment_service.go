package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examguard-backend/internal/config"
	"github.com/stemsi/examguard-backend/internal/model"
	"github.com/stemsi/examguard-backend/internal/repository"
	"github.com/stemsi/examguard-backend/internal/response"
	"github.com/stemsi/examguard-backend/internal/session"
	"github.com/stemsi/examguard-backend/internal/validator"
)

// Domain Errors
var (
	ErrNotAssessmentTeacher = errors.New("not the teacher of this assessment")
	ErrAssessmentNotDraft   = errors.New("assessment is published and can no longer change")
	ErrAssessmentNotLive    = errors.New("assessment is not published")
)

// AssessmentStore persists definitions. *repository.AssessmentRepository implements it.
type AssessmentStore interface {
	Create(ctx context.Context, a *model.Assessment) error
	Replace(ctx context.Context, a *model.Assessment) error
	Publish(ctx context.Context, id uuid.UUID, at time.Time, check func(*model.Assessment) error) (*model.Assessment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
	ListByTeacher(ctx context.Context, teacherID, limit, offset int) ([]model.Assessment, int, error)
	ListPublished(ctx context.Context) ([]*model.Assessment, error)
}

// AssessmentService handles authoring, publishing and the student paper cache.
type AssessmentService struct {
	repo AssessmentStore
	rdb  *redis.Client
	log  zerolog.Logger
	now  func() time.Time
}

// NewAssessmentService creates a new AssessmentService.
func NewAssessmentService(repo AssessmentStore, rdb *redis.Client, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "assessment_service").Logger(),
		now:  time.Now,
	}
}

// Validate is a dry run of the authoring rules.
func (s *AssessmentService) Validate(in *model.AssessmentInput, forPublish bool) error {
	return validator.ValidateAssessment(in, forPublish)
}

// Create validates and stores a new draft.
func (s *AssessmentService) Create(ctx context.Context, teacherID int, in *model.AssessmentInput) (*model.Assessment, error) {
	if err := validator.ValidateAssessment(in, false); err != nil {
		return nil, err
	}

	a := in.Build(uuid.New(), teacherID, s.now().UTC())
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}

	s.log.Info().Str("assessment_id", a.ID.String()).Int("teacher_id", teacherID).Msg("Assessment drafted")
	return a, nil
}

// Replace overwrites a draft with new content. Section and question ids are regenerated.
func (s *AssessmentService) Replace(ctx context.Context, teacherID int, id uuid.UUID, in *model.AssessmentInput) (*model.Assessment, error) {
	existing, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	if existing.IsPublished {
		return nil, ErrAssessmentNotDraft
	}
	if err := validator.ValidateAssessment(in, false); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := in.Build(id, teacherID, now)
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = now
	if err := s.repo.Replace(ctx, a); err != nil {
		if errors.Is(err, repository.ErrAlreadyPublished) {
			return nil, ErrAssessmentNotDraft
		}
		return nil, fmt.Errorf("replace assessment: %w", err)
	}
	return a, nil
}

// Publish applies the publish rules, makes the assessment immutable and warms
// the paper cache.
func (s *AssessmentService) Publish(ctx context.Context, teacherID int, id uuid.UUID) (*model.Assessment, error) {
	existing, err := s.Get(ctx, teacherID, id)
	if err != nil {
		return nil, err
	}
	if existing.IsPublished {
		return nil, ErrAssessmentNotDraft
	}

	// The rules run on the copy read under the publish lock, not on existing.
	a, err := s.repo.Publish(ctx, id, s.now().UTC(), validator.ValidateAssessmentDefinition)
	if err != nil {
		var fields validator.FieldErrors
		switch {
		case errors.Is(err, repository.ErrAlreadyPublished):
			return nil, ErrAssessmentNotDraft
		case errors.As(err, &fields):
			return nil, fields
		case isNotFound(err):
			return nil, err
		}
		return nil, fmt.Errorf("publish: %w", err)
	}

	if err := s.WarmPaperCache(ctx, a); err != nil {
		// The paper can always be rebuilt from PostgreSQL.
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Paper cache not warmed")
	}

	s.log.Info().Str("assessment_id", id.String()).Int("questions", a.QuestionCount()).Msg("Assessment published")
	return a, nil
}

// Get returns a definition owned by the teacher.
func (s *AssessmentService) Get(ctx context.Context, teacherID int, id uuid.UUID) (*model.Assessment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.TeacherID != teacherID {
		return nil, ErrNotAssessmentTeacher
	}
	return a, nil
}

// Load returns any definition, for internal callers that already checked access.
func (s *AssessmentService) Load(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByTeacher lists the teacher's assessments.
func (s *AssessmentService) ListByTeacher(ctx context.Context, teacherID, page, perPage int) ([]model.Assessment, *response.Pagination, error) {
	page, perPage, offset := response.PageBounds(page, perPage)

	list, total, err := s.repo.ListByTeacher(ctx, teacherID, perPage, offset)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		list = []model.Assessment{}
	}

	return list, response.NewPagination(page, perPage, total), nil
}

// WarmPaperCache stores the student paper of a published assessment.
func (s *AssessmentService) WarmPaperCache(ctx context.Context, a *model.Assessment) error {
	if !a.IsPublished {
		return ErrAssessmentNotLive
	}
	data, err := json.Marshal(BuildPaper(a))
	if err != nil {
		return fmt.Errorf("marshal paper: %w", err)
	}

	id := a.ID.String()
	if err := s.rdb.Set(ctx, config.CacheKey.AssessmentPaperKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().Str("assessment_id", id).Int("questions", a.QuestionCount()).Msg("Paper cache warmed")
	return nil
}

// PrewarmAllCaches loads every published paper into Redis on startup.
func (s *AssessmentService) PrewarmAllCaches(ctx context.Context) error {
	list, err := s.repo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published assessments: %w", err)
	}
	if len(list) == 0 {
		s.log.Info().Msg("No published assessments to prewarm")
		return nil
	}

	warmed := 0
	for _, a := range list {
		if err := s.WarmPaperCache(ctx, a); err != nil {
			s.log.Warn().Err(err).Str("assessment_id", a.ID.String()).Msg("Failed to warm paper, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(list)).Msg("Prewarming complete")
	return nil
}

// Paper returns the cached student paper, rebuilding it from PostgreSQL on a miss.
func (s *AssessmentService) Paper(ctx context.Context, id uuid.UUID) (*model.AssessmentPaper, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AssessmentPaperKey(id.String())).Bytes()
	if err == nil {
		var paper model.AssessmentPaper
		if err := json.Unmarshal(data, &paper); err == nil {
			return &paper, nil
		}
		s.log.Warn().Str("assessment_id", id.String()).Msg("Corrupt paper cache entry, rebuilding")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis error reading paper, falling back to PostgreSQL")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsPublished {
		return nil, ErrAssessmentNotLive
	}
	// Self-heal.
	if err := s.WarmPaperCache(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("assessment_id", id.String()).Msg("Paper cache not healed")
	}
	return BuildPaper(a), nil
}

// isNotFound reports a missing row from any layer.
func isNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}

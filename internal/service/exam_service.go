package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"golang.org/x/sync/singleflight"
)

// ErrExamNotFound is returned when the exam does not exist.
var ErrExamNotFound = errors.New("exam not found")

// ExamSource is the authoritative store of exams, backed by PostgreSQL.
type ExamSource interface {
	GetDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	GetAnswerKey(ctx context.Context, id uuid.UUID) (*model.AnswerKey, error)
	ListOpen(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// ExamService serves exam definitions and answer keys from Redis, filling the
// cache from the source on a miss. Concurrent misses for one exam share a
// single load.
type ExamService struct {
	source ExamSource
	rdb    *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	log    zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(source ExamSource, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *ExamService {
	return &ExamService{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		log:    log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns the answer-free definition of an exam.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	def := &model.ExamDefinition{}
	key := config.CacheKey.ExamDefinitionKey(examID.String())
	err := s.cached(ctx, key, def, func(ctx context.Context) (any, error) {
		return s.source.GetDefinition(ctx, examID)
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// GetAnswerKey returns the answer key of an exam for grading.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (*model.AnswerKey, error) {
	ak := &model.AnswerKey{}
	key := config.CacheKey.ExamAnswerKey(examID.String())
	err := s.cached(ctx, key, ak, func(ctx context.Context) (any, error) {
		return s.source.GetAnswerKey(ctx, examID)
	})
	if err != nil {
		return nil, err
	}
	return ak, nil
}

// Invalidate drops the cached definition and key of an exam.
func (s *ExamService) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return s.rdb.Del(ctx,
		config.CacheKey.ExamDefinitionKey(examID.String()),
		config.CacheKey.ExamAnswerKey(examID.String()),
	).Err()
}

// PrewarmAllCaches loads every open exam into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	ids, err := s.source.ListOpen(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("list open exams: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No open exams to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if _, err := s.GetDefinition(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to warm exam, skipping")
			continue
		}
		if _, err := s.GetAnswerKey(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to warm answer key, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

// cached decodes key into dst, loading and storing it on a miss. Redis errors
// fall through to the source: the cache is never authoritative.
func (s *ExamService) cached(ctx context.Context, key string, dst any, load func(context.Context) (any, error)) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if err := json.Unmarshal(data, dst); err == nil {
			return nil
		}
		s.log.Warn().Str("key", key).Msg("Corrupt cache entry, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, using source")
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		val, err := load(lctx)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrExamNotFound
			}
			return nil, err
		}
		payload, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", key, err)
		}
		if err := s.rdb.Set(lctx, key, payload, s.ttl).Err(); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache exam data")
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dst)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultMirrorTTL bounds how long an untouched mirror survives. It is far
// longer than any exam so a resume always finds it.
const DefaultMirrorTTL = 48 * time.Hour

// AnswerMirrorRepository keeps a durable copy of the answers of an attempt in
// Redis. It survives a process restart and is cleared only on submission or
// restart.
type AnswerMirrorRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAnswerMirrorRepository creates a new AnswerMirrorRepository.
func NewAnswerMirrorRepository(rdb *redis.Client, ttl time.Duration) *AnswerMirrorRepository {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &AnswerMirrorRepository{rdb: rdb, ttl: ttl}
}

// Read returns the mirrored answers. ok is false when nothing is stored.
func (r *AnswerMirrorRepository) Read(ctx context.Context, examID uuid.UUID, studentID int) (model.AnswerState, bool, error) {
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.AnswerState{}, false, nil
	}
	if err != nil {
		return model.AnswerState{}, false, err
	}

	var state model.AnswerState
	if err := json.Unmarshal(raw, &state); err != nil {
		return model.AnswerState{}, false, fmt.Errorf("decode answer mirror: %w", err)
	}
	return state, true, nil
}

// Write replaces the mirrored answers.
func (r *AnswerMirrorRepository) Write(ctx context.Context, examID uuid.UUID, studentID int, state model.AnswerState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode answer mirror: %w", err)
	}
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	return r.rdb.Set(ctx, key, payload, r.ttl).Err()
}

// Clear removes the mirror.
func (r *AnswerMirrorRepository) Clear(ctx context.Context, examID uuid.UUID, studentID int) error {
	key := config.CacheKey.StudentAnswersKey(examID.String(), studentID)
	return r.rdb.Del(ctx, key).Err()
}

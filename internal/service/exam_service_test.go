package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

type countingSource struct {
	defLoads atomic.Int32
	keyLoads atomic.Int32
	gate     chan struct{}
	defs     map[uuid.UUID]*model.ExamDefinition
	keys     map[uuid.UUID]*model.AnswerKey
}

func (s *countingSource) GetDefinition(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	s.defLoads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	d, ok := s.defs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return d, nil
}

func (s *countingSource) GetAnswerKey(_ context.Context, id uuid.UUID) (*model.AnswerKey, error) {
	s.keyLoads.Add(1)
	k, ok := s.keys[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return k, nil
}

func (s *countingSource) ListOpen(context.Context, time.Time) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	return ids, nil
}

func newExamService(t *testing.T) (*ExamService, *countingSource, *miniredis.Miniredis, uuid.UUID) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	examID := uuid.New()
	src := &countingSource{
		defs: map[uuid.UUID]*model.ExamDefinition{examID: {
			ID: examID, Title: "Kimia", DurationSeconds: 1800,
			MCQuestions: []model.QuestionSlot{{Index: 0}},
			SAQuestions: []model.QuestionSlot{{Index: 0}},
		}},
		keys: map[uuid.UUID]*model.AnswerKey{examID: {
			MC: map[int]string{0: "C"},
			SA: map[int]model.KeyValue{0: "6.02e23"},
		}},
	}
	return NewExamService(src, rdb, time.Minute, zerolog.Nop()), src, mr, examID
}

func TestExamServiceCachesDefinition(t *testing.T) {
	svc, src, mr, examID := newExamService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		def, err := svc.GetDefinition(ctx, examID)
		if err != nil {
			t.Fatalf("GetDefinition: %v", err)
		}
		if def.Title != "Kimia" || def.TotalQuestions() != 2 {
			t.Fatalf("def = %+v", def)
		}
	}
	if n := src.defLoads.Load(); n != 1 {
		t.Fatalf("source loads = %d, want 1", n)
	}
	key := config.CacheKey.ExamDefinitionKey(examID.String())
	if ttl := mr.TTL(key); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}
}

func TestExamServiceAnswerKeyRoundTrip(t *testing.T) {
	svc, src, _, examID := newExamService(t)
	ctx := context.Background()

	if _, err := svc.GetAnswerKey(ctx, examID); err != nil {
		t.Fatal(err)
	}
	key, err := svc.GetAnswerKey(ctx, examID)
	if err != nil {
		t.Fatal(err)
	}
	if key.MC[0] != "C" || key.SA[0] != "6.02e23" {
		t.Fatalf("key = %+v", key)
	}
	if n := src.keyLoads.Load(); n != 1 {
		t.Fatalf("source loads = %d, want 1", n)
	}
}

func TestExamServiceNotFound(t *testing.T) {
	svc, _, _, _ := newExamService(t)
	if _, err := svc.GetDefinition(context.Background(), uuid.New()); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestExamServiceCollapsesConcurrentMisses(t *testing.T) {
	svc, src, _, examID := newExamService(t)
	src.gate = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetDefinition(context.Background(), examID); err != nil {
				t.Errorf("GetDefinition: %v", err)
			}
		}()
	}
	// Let the callers pile up on the first load before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if n := src.defLoads.Load(); n != 1 {
		t.Fatalf("source loads = %d, want 1", n)
	}
}

func TestExamServiceInvalidateAndPrewarm(t *testing.T) {
	svc, src, mr, examID := newExamService(t)
	ctx := context.Background()

	if err := svc.PrewarmAllCaches(ctx); err != nil {
		t.Fatalf("PrewarmAllCaches: %v", err)
	}
	if !mr.Exists(config.CacheKey.ExamDefinitionKey(examID.String())) ||
		!mr.Exists(config.CacheKey.ExamAnswerKey(examID.String())) {
		t.Fatal("prewarm did not populate the cache")
	}

	if err := svc.Invalidate(ctx, examID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetDefinition(ctx, examID); err != nil {
		t.Fatal(err)
	}
	if n := src.defLoads.Load(); n != 2 {
		t.Fatalf("source loads = %d, want 2 after invalidation", n)
	}
}

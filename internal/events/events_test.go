package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

func testEvent(examID uuid.UUID, studentID int, typ model.SessionEventType) model.SessionEvent {
	return model.SessionEvent{
		Type:      typ,
		ExamID:    examID,
		StudentID: studentID,
		SessionID: uuid.New(),
		At:        time.Now(),
	}
}

func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	examID := uuid.New()

	a, cancelA := hub.Subscribe(examID, 1)
	defer cancelA()
	b, cancelB := hub.Subscribe(examID, 1)
	defer cancelB()
	other, cancelOther := hub.Subscribe(examID, 2)
	defer cancelOther()

	hub.Emit(context.Background(), testEvent(examID, 1, model.EventSubmitted))

	for _, ch := range []<-chan model.SessionEvent{a, b} {
		select {
		case ev := <-ch:
			if ev.Type != model.EventSubmitted {
				t.Fatalf("event type = %s", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber got %+v", ev)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	examID := uuid.New()

	ch, cancel := hub.Subscribe(examID, 7)
	if n := hub.Subscribers(examID, 7); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	if n := hub.Subscribers(examID, 7); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}

	// Emitting after cancel must not panic.
	hub.Emit(context.Background(), testEvent(examID, 7, model.EventSubmitted))
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	examID := uuid.New()
	ch, cancel := hub.Subscribe(examID, 3)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Emit(context.Background(), testEvent(examID, 3, model.EventViolationRecorded))
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

type recordingSink struct {
	got []model.SessionEventType
}

func (r *recordingSink) Emit(_ context.Context, ev model.SessionEvent) {
	r.got = append(r.got, ev.Type)
}

func TestMultiForwardsToAll(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	m := Multi{first, nil, second, Discard{}}

	m.Emit(context.Background(), testEvent(uuid.New(), 1, model.EventAttemptStarted))

	if len(first.got) != 1 || len(second.got) != 1 {
		t.Fatalf("first=%v second=%v", first.got, second.got)
	}
}

func TestRedisPublisherPublishesToMonitorChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	examID := uuid.New()
	channel := config.CacheKey.ExamMonitorChannel(examID.String())

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewRedisPublisher(rdb, zerolog.Nop())
	pub.Emit(ctx, testEvent(examID, 42, model.EventRankingDemoted))

	select {
	case msg := <-sub.Channel():
		var ev model.SessionEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != model.EventRankingDemoted || ev.StudentID != 42 || ev.ExamID != examID {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}

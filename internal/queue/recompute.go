package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"attendly/internal/session"
)

// RecomputeJob asks the worker to rebuild the aggregated record for a
// cohort. SessionID is carried for logging only.
type RecomputeJob struct {
	Cohort    session.CohortKey `json:"cohort"`
	SessionID string            `json:"session_id,omitempty"`
}

// Debouncer coalesces recompute requests for the same cohort. Activate
// returns true when no request is already pending, in which case the
// caller should publish. The worker clears the pending flag before it
// recomputes, so a request arriving mid-recompute still lands.
type Debouncer interface {
	Activate(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, key string) error
}

// RedisDebouncer uses SETNX with a TTL so a crashed worker cannot wedge
// a cohort forever.
type RedisDebouncer struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDebouncer(client *redis.Client, ttl time.Duration) *RedisDebouncer {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisDebouncer{client: client, ttl: ttl}
}

func (d *RedisDebouncer) Activate(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, "attendly:recompute:pending:"+key, 1, d.ttl).Result()
}

func (d *RedisDebouncer) Clear(ctx context.Context, key string) error {
	return d.client.Del(ctx, "attendly:recompute:pending:"+key).Err()
}

// MemoryDebouncer is the single-process equivalent for dev/testing.
type MemoryDebouncer struct {
	mu      sync.Mutex
	pending map[string]time.Time
	ttl     time.Duration
}

func NewMemoryDebouncer(ttl time.Duration) *MemoryDebouncer {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &MemoryDebouncer{pending: make(map[string]time.Time), ttl: ttl}
}

func (d *MemoryDebouncer) Activate(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.pending[key]; ok && time.Now().Before(until) {
		return false, nil
	}
	d.pending[key] = time.Now().Add(d.ttl)
	return true, nil
}

func (d *MemoryDebouncer) Clear(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, key)
	return nil
}

// CohortString gives the debounce key for a cohort.
func CohortString(k session.CohortKey) string {
	return fmt.Sprintf("%s:%s:%s:%d:%d:%s", k.ClassID, k.CourseID, k.SubjectID, k.Semester, k.Year, k.Batch)
}

// RecomputePublisher enqueues recompute jobs with per-cohort debouncing.
// It implements session.RecomputeTrigger. Publishing is best-effort; the
// periodic sweep and manual regeneration cover a lost message.
type RecomputePublisher struct {
	queue    Queue
	debounce Debouncer
	log      zerolog.Logger
}

func NewRecomputePublisher(q Queue, d Debouncer, log zerolog.Logger) *RecomputePublisher {
	return &RecomputePublisher{queue: q, debounce: d, log: log}
}

// TriggerRecompute schedules an aggregation rebuild for the session's
// cohort, skipping the publish when one is already pending.
func (p *RecomputePublisher) TriggerRecompute(ctx context.Context, s session.Session) {
	key := s.Cohort()
	fresh, err := p.debounce.Activate(ctx, CohortString(key))
	if err != nil {
		p.log.Warn().Err(err).Str("session_id", s.ID).Msg("recompute debounce check failed, publishing anyway")
	} else if !fresh {
		return
	}

	msg, err := NewMessage(TypeRecompute, RecomputeJob{Cohort: key, SessionID: s.ID})
	if err != nil {
		p.log.Error().Err(err).Str("session_id", s.ID).Msg("encode recompute job")
		return
	}
	if err := p.queue.Publish(ctx, msg); err != nil {
		p.log.Error().Err(err).Str("session_id", s.ID).Msg("publish recompute job")
	}
}

// DecodeRecompute parses a recompute job from a consumed message.
func DecodeRecompute(msg Message) (RecomputeJob, error) {
	var job RecomputeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return RecomputeJob{}, fmt.Errorf("decode recompute job: %w", err)
	}
	return job, nil
}

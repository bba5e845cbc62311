package queue

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendly/internal/session"
)

func testCohortSession() session.Session {
	return session.Session{
		ID:        "sess1",
		ClassID:   "c1",
		CourseID:  "crs1",
		SubjectID: "sub1",
		Semester:  3,
		Year:      2026,
		Batch:     "A",
	}
}

func TestMemoryDebouncer(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDebouncer(time.Minute)

	fresh, err := d.Activate(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = d.Activate(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, fresh)

	// independent keys do not interfere
	fresh, err = d.Activate(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, fresh)

	// clearing re-arms the key
	require.NoError(t, d.Clear(ctx, "k1"))
	fresh, err = d.Activate(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryDebouncerTTL(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDebouncer(time.Millisecond)

	fresh, err := d.Activate(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, fresh)

	time.Sleep(5 * time.Millisecond)
	fresh, err = d.Activate(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestRecomputePublisherCoalesces(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(16)
	pub := NewRecomputePublisher(q, NewMemoryDebouncer(time.Minute), zerolog.Nop())
	sess := testCohortSession()

	pub.TriggerRecompute(ctx, sess)
	pub.TriggerRecompute(ctx, sess)
	pub.TriggerRecompute(ctx, sess)

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, TypeRecompute, msg.Type)
		job, err := DecodeRecompute(msg)
		require.NoError(t, err)
		assert.Equal(t, sess.Cohort(), job.Cohort)
		assert.Equal(t, "sess1", job.SessionID)
	case <-time.After(time.Second):
		t.Fatal("expected a published job")
	}

	select {
	case msg := <-messages:
		t.Fatalf("expected coalescing, got second message %q", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecomputePublisherAfterClear(t *testing.T) {
	ctx := context.Background()
	q := NewInMemory(16)
	d := NewMemoryDebouncer(time.Minute)
	pub := NewRecomputePublisher(q, d, zerolog.Nop())
	sess := testCohortSession()

	pub.TriggerRecompute(ctx, sess)
	// the worker clears the pending flag before recomputing
	require.NoError(t, d.Clear(ctx, CohortString(sess.Cohort())))
	pub.TriggerRecompute(ctx, sess)

	messages, err := q.Consume(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-messages:
			assert.Equal(t, TypeRecompute, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("expected message %d", i+1)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage(TypeRecompute, RecomputeJob{Cohort: testCohortSession().Cohort()})
	require.NoError(t, err)

	job, err := DecodeRecompute(msg)
	require.NoError(t, err)
	assert.Equal(t, "c1", job.Cohort.ClassID)
	assert.Equal(t, "A", job.Cohort.Batch)

	_, err = DecodeRecompute(Message{Type: TypeRecompute, Body: []byte("{")})
	assert.Error(t, err)
}

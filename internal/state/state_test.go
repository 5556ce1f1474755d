package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/store"
)

func snapshotWith(counts ...int) model.UnreadSnapshot {
	views := make([]model.ConversationView, 0, len(counts))
	for i, c := range counts {
		views = append(views, model.ConversationView{
			Convo: model.Conversation{ID: string(rune('a' + i)), UnreadCount: c},
		})
	}
	return model.NewSnapshot(views, time.Unix(1700000000, 0).UTC())
}

func TestSnapshotDefaultsToEmpty(t *testing.T) {
	repo := New(store.NewMemory())
	snap, err := repo.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalUnreadCount)
	assert.NotNil(t, snap.Conversations)
}

func TestReplaceAndClearSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())

	require.NoError(t, repo.ReplaceSnapshot(ctx, snapshotWith(3, 4)))
	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.TotalUnreadCount)
	assert.Len(t, snap.Conversations, 2)
	assert.True(t, snap.Consistent())

	require.NoError(t, repo.ClearSnapshot(ctx))
	snap, err = repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalUnreadCount)
	assert.Empty(t, snap.Conversations)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())
	require.NoError(t, repo.ReplaceSnapshot(ctx, snapshotWith(3, 4)))

	cleared, err := repo.MarkRead(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 4, cleared)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalUnreadCount)
	assert.Equal(t, 0, snap.Conversations[1].Convo.UnreadCount)
	assert.True(t, snap.Consistent())

	cleared, err = repo.MarkRead(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestIncrementStats(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())

	_, err := repo.IncrementStats(ctx, 1, 0)
	require.NoError(t, err)
	stats, err := repo.IncrementStats(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, model.Stats{PagesVisited: 1, ActionsTaken: 2}, stats)
}

func TestBubblePosition(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())

	_, ok, err := repo.BubblePosition(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetBubblePosition(ctx, model.BubblePosition{X: 10, Y: 20}))
	pos, ok, err := repo.BubblePosition(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.BubblePosition{X: 10, Y: 20}, pos)
}

func TestAlarms(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())

	_, ok, err := repo.Alarm(ctx, "sync")
	require.NoError(t, err)
	assert.False(t, ok)

	next := time.Unix(1700000000, 0).UTC()
	require.NoError(t, repo.SetAlarm(ctx, Alarm{Name: "sync", Period: 15 * time.Second, NextFire: next}))
	alarm, ok, err := repo.Alarm(ctx, "sync")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, alarm.Period)
	assert.True(t, alarm.NextFire.Equal(next))

	require.NoError(t, repo.ClearAlarm(ctx, "sync"))
	_, ok, err = repo.Alarm(ctx, "sync")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, repo.SetAlarm(ctx, Alarm{}))
}

func TestEnsureInstalledRunsOnce(t *testing.T) {
	ctx := context.Background()
	repo := New(store.NewMemory())
	first := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	created, err := repo.EnsureInstalled(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = repo.IncrementStats(ctx, 5, 0)
	require.NoError(t, err)

	created, err = repo.EnsureInstalled(ctx, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	rec, err := repo.Install(ctx)
	require.NoError(t, err)
	assert.True(t, rec.InstallDate.Equal(first))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.PagesVisited)
}

// gatedStore blocks the first snapshot read until release is closed.
type gatedStore struct {
	store.Store
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == KeySnapshot {
		g.once.Do(func() {
			close(g.reading)
			<-g.release
		})
	}
	return g.Store.Get(ctx, key)
}

func TestMarkReadDoesNotOverwriteConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	gated := &gatedStore{Store: store.NewMemory(), reading: make(chan struct{}), release: make(chan struct{})}
	repo := New(gated)

	stale := model.NewSnapshot([]model.ConversationView{
		{Convo: model.Conversation{ID: "a", UnreadCount: 2}},
		{Convo: model.Conversation{ID: "b", UnreadCount: 4}},
	}, time.Unix(1000, 0).UTC())
	require.NoError(t, store.SetJSON(ctx, gated.Store, KeySnapshot, stale))

	markDone := make(chan error, 1)
	go func() {
		_, err := repo.MarkRead(ctx, "a")
		markDone <- err
	}()
	<-gated.reading

	fresh := model.NewSnapshot([]model.ConversationView{
		{Convo: model.Conversation{ID: "a", UnreadCount: 3}},
		{Convo: model.Conversation{ID: "c", UnreadCount: 9}},
	}, time.Unix(1060, 0).UTC())
	replaceDone := make(chan error, 1)
	go func() { replaceDone <- repo.ReplaceSnapshot(ctx, fresh) }()

	select {
	case err := <-replaceDone:
		t.Fatalf("replace landed while mark-read held the snapshot: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	require.NoError(t, <-markDone)
	require.NoError(t, <-replaceDone)

	snap, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh.LastCheckTime, snap.LastCheckTime)
	assert.Equal(t, 12, snap.TotalUnreadCount)
	require.Len(t, snap.Conversations, 2)
	assert.Equal(t, "c", snap.Conversations[1].Convo.ID)
	assert.True(t, snap.Consistent())
}

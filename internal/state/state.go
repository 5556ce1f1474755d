// Package state is the typed view over the persistent store that every
// context shares. The background process is its only writer.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/supersky/supersky/internal/model"
	"github.com/supersky/supersky/internal/store"
)

// Persisted keys.
const (
	KeySnapshot        = "unreadSnapshot"
	KeyRateLimitStatus = "rateLimitStatus"
	KeyStats           = "stats"
	KeyBubblePosition  = "bubblePosition"
	KeyInstall         = "install"
	alarmPrefix        = "alarm."
)

// Alarm is a persisted periodic timer registration.
type Alarm struct {
	Name     string        `json:"name"`
	Period   time.Duration `json:"period"`
	NextFire time.Time     `json:"nextFire"`
}

// Repository reads and writes the shared state.
type Repository struct {
	store store.Store
	// mu serializes the stats and install read-modify-writes.
	mu sync.Mutex
	// snapMu orders every snapshot write, so a mark-read never writes back
	// a copy older than a replacement that landed during its read.
	snapMu sync.Mutex
}

// New wraps s.
func New(s store.Store) *Repository {
	return &Repository{store: s}
}

// Store exposes the underlying key-value store.
func (r *Repository) Store() store.Store {
	return r.store
}

// Snapshot returns the persisted unread snapshot, or an empty one.
func (r *Repository) Snapshot(ctx context.Context) (model.UnreadSnapshot, error) {
	var snap model.UnreadSnapshot
	err := store.GetJSON(ctx, r.store, KeySnapshot, &snap)
	if errors.Is(err, store.ErrNotFound) {
		return model.NewSnapshot(nil, time.Time{}), nil
	}
	if err != nil {
		return model.UnreadSnapshot{}, err
	}
	if snap.Conversations == nil {
		snap.Conversations = []model.ConversationView{}
	}
	return snap, nil
}

// ReplaceSnapshot stores snap as a single value so readers never observe a
// partial update.
func (r *Repository) ReplaceSnapshot(ctx context.Context, snap model.UnreadSnapshot) error {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	return r.replaceSnapshotLocked(ctx, snap)
}

func (r *Repository) replaceSnapshotLocked(ctx context.Context, snap model.UnreadSnapshot) error {
	if snap.Conversations == nil {
		snap.Conversations = []model.ConversationView{}
	}
	if err := store.SetJSON(ctx, r.store, KeySnapshot, snap); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ClearSnapshot drops the snapshot entirely.
func (r *Repository) ClearSnapshot(ctx context.Context) error {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()
	if err := r.store.Remove(ctx, KeySnapshot); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// MarkRead zeroes conversation id in the snapshot and lowers the total by its
// stored unread count. It returns the count that was cleared.
func (r *Repository) MarkRead(ctx context.Context, id string) (int, error) {
	r.snapMu.Lock()
	defer r.snapMu.Unlock()

	snap, err := r.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	next, cleared := snap.MarkRead(id)
	if cleared == 0 {
		return 0, nil
	}
	return cleared, r.replaceSnapshotLocked(ctx, next)
}

// RateLimitStatus returns the persisted limiter state, zero if absent.
func (r *Repository) RateLimitStatus(ctx context.Context) (model.RateLimitStatus, error) {
	var status model.RateLimitStatus
	err := store.GetJSON(ctx, r.store, KeyRateLimitStatus, &status)
	if errors.Is(err, store.ErrNotFound) {
		return model.RateLimitStatus{}, nil
	}
	return status, err
}

// SaveRateLimitStatus persists the limiter state.
func (r *Repository) SaveRateLimitStatus(ctx context.Context, status model.RateLimitStatus) error {
	return store.SetJSON(ctx, r.store, KeyRateLimitStatus, status)
}

// Stats returns the usage counters.
func (r *Repository) Stats(ctx context.Context) (model.Stats, error) {
	var stats model.Stats
	err := store.GetJSON(ctx, r.store, KeyStats, &stats)
	if errors.Is(err, store.ErrNotFound) {
		return model.Stats{}, nil
	}
	return stats, err
}

// IncrementStats adds the given deltas to the usage counters.
func (r *Repository) IncrementStats(ctx context.Context, pages, actions int) (model.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, err := r.Stats(ctx)
	if err != nil {
		return model.Stats{}, err
	}
	stats.PagesVisited += pages
	stats.ActionsTaken += actions
	if err := store.SetJSON(ctx, r.store, KeyStats, stats); err != nil {
		return model.Stats{}, err
	}
	return stats, nil
}

// BubblePosition returns the stored widget position. ok is false when the
// user never moved the bubble.
func (r *Repository) BubblePosition(ctx context.Context) (model.BubblePosition, bool, error) {
	var pos model.BubblePosition
	err := store.GetJSON(ctx, r.store, KeyBubblePosition, &pos)
	if errors.Is(err, store.ErrNotFound) {
		return model.BubblePosition{}, false, nil
	}
	if err != nil {
		return model.BubblePosition{}, false, err
	}
	return pos, true, nil
}

// SetBubblePosition stores the widget position.
func (r *Repository) SetBubblePosition(ctx context.Context, pos model.BubblePosition) error {
	return store.SetJSON(ctx, r.store, KeyBubblePosition, pos)
}

// Alarm looks up a timer registration by name.
func (r *Repository) Alarm(ctx context.Context, name string) (Alarm, bool, error) {
	var alarm Alarm
	err := store.GetJSON(ctx, r.store, alarmPrefix+name, &alarm)
	if errors.Is(err, store.ErrNotFound) {
		return Alarm{}, false, nil
	}
	if err != nil {
		return Alarm{}, false, err
	}
	return alarm, true, nil
}

// SetAlarm registers or updates a timer.
func (r *Repository) SetAlarm(ctx context.Context, alarm Alarm) error {
	if alarm.Name == "" {
		return fmt.Errorf("alarm name is required")
	}
	return store.SetJSON(ctx, r.store, alarmPrefix+alarm.Name, alarm)
}

// ClearAlarm removes a timer registration.
func (r *Repository) ClearAlarm(ctx context.Context, name string) error {
	return r.store.Remove(ctx, alarmPrefix+name)
}

// EnsureInstalled writes the install record and zero stats the first time it
// runs. It reports whether this call performed the installation.
func (r *Repository) EnsureInstalled(ctx context.Context, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rec model.InstallRecord
	err := store.GetJSON(ctx, r.store, KeyInstall, &rec)
	switch {
	case err == nil && rec.IsInitialized:
		return false, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	rec = model.InstallRecord{IsInitialized: true, InstallDate: now.UTC()}
	if err := store.SetJSON(ctx, r.store, KeyStats, model.Stats{}); err != nil {
		return false, err
	}
	if err := store.SetJSON(ctx, r.store, KeyInstall, rec); err != nil {
		return false, err
	}
	return true, nil
}

// Install returns the install record.
func (r *Repository) Install(ctx context.Context) (model.InstallRecord, error) {
	var rec model.InstallRecord
	err := store.GetJSON(ctx, r.store, KeyInstall, &rec)
	if errors.Is(err, store.ErrNotFound) {
		return model.InstallRecord{}, nil
	}
	return rec, err
}

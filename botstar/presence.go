package botstar

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// presenceSnapshot is the normalized form of a single raw presence
// notification, used both as the debounce cache entry and as the source
// for new activity records.
type presenceSnapshot struct {
	Presence   Presence
	StatusText string
	Devices    DeviceFlags
}

// PresenceTracker owns the two pieces of process-wide tracking state: the
// set of user IDs currently eligible for logging, and the per-user
// last-seen raw presence used for debouncing.
//
// Both maps are populated at startup ([PresenceTracker.LoadTrackedUsers])
// and mutated synchronously: the tracked set on preference changes, the
// last-seen cache on every observed presence event. discordgo dispatches
// gateway events on separate goroutines, so both maps are mutex-guarded.
//
// The tracked set must always equal the set of users whose stored
// [TrackingVisibility] is enabled; divergence is a bug.
type PresenceTracker struct {
	mu       sync.RWMutex
	tracked  map[string]struct{}
	seenMu   sync.Mutex
	lastSeen map[string]presenceSnapshot
	logger   *slog.Logger
}

func NewPresenceTracker(logger *slog.Logger) *PresenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceTracker{
		tracked:  map[string]struct{}{},
		lastSeen: map[string]presenceSnapshot{},
		logger:   logger.With(loggerNameKey, "presence_tracker"),
	}
}

// LoadTrackedUsers populates the tracked-user set from stored tracking
// preferences, and resets the last-seen cache. Called once at startup,
// before the gateway connection opens.
func (t *PresenceTracker) LoadTrackedUsers(ctx context.Context, db DBI) error {
	var userIDs []string
	rv := db.DB().WithContext(ctx).
		Model(&User{}).
		Where(
			"tracking_visibility IN ?",
			[]TrackingVisibility{TrackingPublic, TrackingPrivate},
		).
		Pluck("id", &userIDs)
	if rv.Error != nil {
		return fmt.Errorf("%w: loading tracked users: %w", ErrStorage, rv.Error)
	}

	t.mu.Lock()
	t.tracked = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		t.tracked[id] = struct{}{}
	}
	t.mu.Unlock()

	t.seenMu.Lock()
	t.lastSeen = map[string]presenceSnapshot{}
	t.seenMu.Unlock()

	t.logger.InfoContext(ctx, "loaded tracked users", "count", len(userIDs))
	return nil
}

// Tracked reports whether presence events for the given user should be
// logged.
func (t *PresenceTracker) Tracked(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tracked[userID]
	return ok
}

// TrackedCount returns the number of currently tracked users.
func (t *PresenceTracker) TrackedCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracked)
}

// SetTracking adds or removes a user from the tracked set. Called
// synchronously whenever a tracking preference changes, so the set never
// diverges from the stored preferences. Disabling takes effect
// immediately: no further events are written for the user. Re-enabling
// restores eligibility without resurrecting previously suppressed writes.
func (t *PresenceTracker) SetTracking(userID string, enabled bool) {
	t.mu.Lock()
	if enabled {
		t.tracked[userID] = struct{}{}
	} else {
		delete(t.tracked, userID)
	}
	t.mu.Unlock()

	t.logger.Debug(
		"tracking preference applied",
		"user_id", userID,
		"enabled", enabled,
	)
}

// normalizePresence converts a raw gateway presence into its canonical
// snapshot form:
//
//   - A missing/empty status maps to offline (Discord doesn't always
//     bother sending "offline" statuses).
//   - Device flags derive from the client status block; all false if none.
//   - The status label is the first activity's state field, else 'N/A'.
func normalizePresence(p *discordgo.Presence) presenceSnapshot {
	snap := presenceSnapshot{
		Presence:   PresenceOffline,
		StatusText: StatusNone,
	}
	if p == nil {
		return snap
	}
	switch p.Status {
	case discordgo.StatusOnline:
		snap.Presence = PresenceOnline
	case discordgo.StatusIdle:
		snap.Presence = PresenceIdle
	case discordgo.StatusDoNotDisturb:
		snap.Presence = PresenceDND
	default:
		snap.Presence = PresenceOffline
	}

	snap.Devices = DeviceFlags{
		Mobile:  p.ClientStatus.Mobile != "",
		Desktop: p.ClientStatus.Desktop != "",
		Web:     p.ClientStatus.Web != "",
	}

	if len(p.Activities) > 0 && p.Activities[0] != nil && p.Activities[0].State != "" {
		snap.StatusText = p.Activities[0].State
	}
	return snap
}

// Observe ingests one raw presence notification, returning the activity
// record to append, or nil when the event should not be written.
//
// Users outside the tracked set are skipped entirely: the last-seen cache
// is not touched. For tracked users the snapshot is compared against the
// last *seen* raw state (not the last persisted record): if unchanged the
// event is suppressed, collapsing a burst of identical notifications to
// zero writes regardless of length. The cache is updated either way.
func (t *PresenceTracker) Observe(p *discordgo.PresenceUpdate) *ActivityRecord {
	if p == nil || p.User == nil {
		return nil
	}
	userID := p.User.ID
	if !t.Tracked(userID) {
		return nil
	}

	snap := normalizePresence(&p.Presence)

	t.seenMu.Lock()
	prev, seen := t.lastSeen[userID]
	t.lastSeen[userID] = snap
	t.seenMu.Unlock()

	if seen && prev == snap {
		return nil
	}

	return &ActivityRecord{
		UserID:      userID,
		Presence:    snap.Presence,
		StatusText:  snap.StatusText,
		TimestampMs: time.Now().UTC().UnixMilli(),
		DeviceFlags: snap.Devices,
	}
}

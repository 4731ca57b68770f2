package botstar

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// StatusNone is the sentinel status label recorded when a user has no
	// current activity.
	StatusNone = "N/A"
)

const (
	PresenceOnline  Presence = "online"
	PresenceIdle    Presence = "idle"
	PresenceDND     Presence = "dnd"
	PresenceOffline Presence = "offline"
)

// Presence is a user's coarse online/away/busy/offline state as reported
// by Discord. Discord omits "offline" by convention, so a missing status
// always normalizes to [PresenceOffline].
type Presence string

// statusColors maps each presence state to the hex color used on activity
// cards (the same palette Discord uses for status dots).
var statusColors = map[Presence]string{
	PresenceOnline:  "#43b581",
	PresenceIdle:    "#faa61a",
	PresenceDND:     "#f04747",
	PresenceOffline: "#747f8d",
}

// Color returns the display color for the presence state. Unknown states
// render as offline.
func (p Presence) Color() string {
	if c, ok := statusColors[p]; ok {
		return c
	}
	return statusColors[PresenceOffline]
}

// DeviceFlags are independent booleans indicating which client surfaces
// are currently connected for a user.
type DeviceFlags struct {
	Mobile  bool `json:"mobile" gorm:"type:bool"`
	Desktop bool `json:"desktop" gorm:"type:bool"`
	Web     bool `json:"web" gorm:"type:bool"`
}

// ActivityRecord is one row of the per-user activity log: a single
// observed presence transition. Records are append-only, stored in
// non-decreasing timestamp order per user, and debounced at write time so
// no two consecutive rows for a user carry an identical
// (presence, status, device flags) tuple.
//
//nolint:lll // struct tags can't be split
type ActivityRecord struct {
	ModelUintID

	// UserID is the Discord user the record belongs to
	UserID string `json:"user_id" gorm:"index:idx_activity_user_ts;not null"`

	// Presence is the user's normalized presence state
	Presence Presence `json:"presence" gorm:"type:string;not null"`

	// StatusText is the user's current activity label, or 'N/A'
	StatusText string `json:"status_text" gorm:"type:string"`

	// TimestampMs is the epoch-millisecond time the change was observed
	// (not when it occurred)
	TimestampMs int64 `json:"timestamp_ms" gorm:"index:idx_activity_user_ts;not null"`

	// DeviceFlags indicate which clients were connected at the time
	DeviceFlags

	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func (ActivityRecord) TableName() string {
	return "activity_log"
}

func (r ActivityRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnUserID, r.UserID),
		slog.String("presence", string(r.Presence)),
		slog.String("status_text", r.StatusText),
		slog.Int64("timestamp_ms", r.TimestampMs),
		slog.Bool("mobile", r.Mobile),
		slog.Bool("desktop", r.Desktop),
		slog.Bool("web", r.Web),
	)
}

// LogActivity appends a single record to the activity log. Each append is
// one atomic row insert; there is no partial write.
func (d *database) LogActivity(ctx context.Context, rec *ActivityRecord) error {
	if _, err := d.Create(ctx, rec); err != nil {
		return fmt.Errorf("%w: appending activity record: %w", ErrStorage, err)
	}
	return nil
}

// ActivitySince returns the user's activity records with
// timestamp_ms >= sinceMs, ascending, breaking same-millisecond ties on
// insertion order. No rows is a normal outcome, returned as an empty
// slice: whether that constitutes an error is the caller's decision.
func (d *database) ActivitySince(
	ctx context.Context,
	userID string,
	sinceMs int64,
) ([]ActivityRecord, error) {
	records := make([]ActivityRecord, 0)
	rv := d.db.WithContext(ctx).
		Where("user_id = ? AND timestamp_ms >= ?", userID, sinceMs).
		Order("timestamp_ms asc, id asc").
		Find(&records)
	if rv.Error != nil {
		return nil, fmt.Errorf("%w: querying activity log: %w", ErrStorage, rv.Error)
	}
	return records, nil
}

// CleanupActivityLogs bulk-deletes records older than the retention
// horizon. This runs once at startup; it is not rescheduled internally.
func (d *database) CleanupActivityLogs(
	ctx context.Context,
	retention time.Duration,
) (int64, error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	horizonMs := time.Now().Add(-retention).UnixMilli()
	rv := d.db.WithContext(ctx).
		Where("timestamp_ms < ?", horizonMs).
		Delete(&ActivityRecord{})
	if rv.Error != nil {
		return 0, fmt.Errorf("%w: cleaning up activity log: %w", ErrStorage, rv.Error)
	}
	return rv.RowsAffected, nil
}
